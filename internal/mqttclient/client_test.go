package mqttclient

import "testing"

func TestTopic(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		eventType string
		want      string
	}{
		{"plain", "audioscribe", "job_progress", "audioscribe/job_progress"},
		{"empty_prefix", "", "job_failed", "job_failed"},
		{"trailing_slash", "home/scribe/", "job_queued", "home/scribe/job_queued"},
		{"whitespace", "  audioscribe ", "job_started", "audioscribe/job_started"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Topic(tt.prefix, tt.eventType); got != tt.want {
				t.Errorf("Topic(%q, %q) = %q, want %q", tt.prefix, tt.eventType, got, tt.want)
			}
		})
	}
}
