package uploader

import (
	"sync"
	"time"

	"github.com/programadorcaro/nenoflix-uploader/internal/chunkplan"
)

type taskState int

const (
	taskPending taskState = iota
	taskInFlight
	taskDone
)

// chunkTask tracks one chunk through dispatch, retry, and completion.
// Fields guarded by mu are shared between the dispatcher, the attempt
// goroutine, and the stuck watcher.
type chunkTask struct {
	index int
	start int64
	end   int64

	mu        sync.Mutex
	state     taskState
	attempts  int
	startedAt time.Time
	sentBytes int64
	stuck     bool
	cancel    func()
}

func (t *chunkTask) size() int64 {
	return t.end - t.start
}

func (t *chunkTask) beginAttempt(now time.Time, cancel func()) {
	t.mu.Lock()
	t.state = taskInFlight
	t.attempts++
	t.startedAt = now
	t.sentBytes = 0
	t.stuck = false
	t.cancel = cancel
	t.mu.Unlock()
}

func (t *chunkTask) addSent(n int64) {
	t.mu.Lock()
	t.sentBytes += n
	t.mu.Unlock()
}

func (t *chunkTask) finish(ok bool) {
	t.mu.Lock()
	if ok {
		t.state = taskDone
	} else {
		t.state = taskPending
	}
	t.cancel = nil
	t.mu.Unlock()
}

func (t *chunkTask) markDone() {
	t.mu.Lock()
	t.state = taskDone
	t.cancel = nil
	t.mu.Unlock()
}

func (t *chunkTask) isPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == taskPending
}

func (t *chunkTask) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *chunkTask) sent() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentBytes
}

// requeue puts a completed-looking task back in the pending pool, used
// when the server reports it never received the chunk.
func (t *chunkTask) requeue() {
	t.mu.Lock()
	if t.state == taskDone {
		t.state = taskPending
	}
	t.mu.Unlock()
}

func (t *chunkTask) inFlightSince() (time.Time, int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != taskInFlight {
		return time.Time{}, 0, false
	}
	return t.startedAt, t.sentBytes, true
}

// abortStuck cancels an in-flight attempt and flags it so the
// dispatcher retries without backoff.
func (t *chunkTask) abortStuck() {
	t.mu.Lock()
	cancel := t.cancel
	if cancel != nil {
		t.stuck = true
	}
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// takeStuck reads and clears the stuck flag for the finishing attempt.
func (t *chunkTask) takeStuck() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	stuck := t.stuck
	t.stuck = false
	return stuck
}

func buildTasks(totalSize, chunkSize int64) ([]*chunkTask, error) {
	ranges, err := chunkplan.Ranges(totalSize, chunkSize)
	if err != nil {
		return nil, err
	}
	tasks := make([]*chunkTask, len(ranges))
	for i, r := range ranges {
		tasks[i] = &chunkTask{index: r.Index, start: r.Start, end: r.End}
	}
	return tasks, nil
}
