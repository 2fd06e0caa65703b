package intake

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// SelectFile prompts on out for an audio file path and reads one line from
// in. An empty answer or EOF means the user cancelled and returns "".
// Paths dropped onto a terminal arrive quoted or with escaped spaces; both
// forms are accepted.
func SelectFile(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintf(out, "Audio file (%s), empty to cancel: ", strings.Join(Extensions, ", "))

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	path := cleanPath(line)
	if path == "" {
		return "", nil
	}
	if err := Validate(path); err != nil {
		return "", err
	}
	return path, nil
}

func cleanPath(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return strings.ReplaceAll(s, `\ `, " ")
}
