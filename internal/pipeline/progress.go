package pipeline

import "fmt"

// Progress is emitted after each artifact has been transcribed.
type Progress struct {
	RunID   string  `json:"run_id"`
	Percent float64 `json:"percent"`
	Status  string  `json:"status"`
	Done    int     `json:"done"`
	Total   int     `json:"total"`
}

// ProgressFunc receives progress events for one run.
type ProgressFunc func(Progress)

// chunkStatus estimates the time left at a fixed rate per remaining chunk.
func chunkStatus(done, total, minutesPerChunk int) string {
	remaining := (total - done) * minutesPerChunk
	return fmt.Sprintf("Transcribing chunk %d of %d (about %d minutes remaining)", done, total, remaining)
}

// dispatcher hands events to the callback on its own goroutine so a slow
// handler never delays the next request. The buffer holds every event of
// the run, so emit never blocks.
type dispatcher struct {
	ch   chan Progress
	done chan struct{}
}

func newDispatcher(fn ProgressFunc, size int) *dispatcher {
	if fn == nil {
		return nil
	}
	if size < 1 {
		size = 1
	}
	d := &dispatcher{
		ch:   make(chan Progress, size),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for ev := range d.ch {
			fn(ev)
		}
	}()
	return d
}

func (d *dispatcher) emit(p Progress) {
	if d == nil {
		return
	}
	d.ch <- p
}

// close waits until every emitted event has been handled.
func (d *dispatcher) close() {
	if d == nil {
		return
	}
	close(d.ch)
	<-d.done
}
