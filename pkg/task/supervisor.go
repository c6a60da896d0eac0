// Package task tracks in-flight and completed archive builds for the
// background download mode. State is local, in-process and best-effort;
// nothing here survives a restart.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ghzip/github-zip-server/pkg/archive"
	"github.com/ghzip/github-zip-server/pkg/e"
	"github.com/ghzip/github-zip-server/pkg/s"
)

const (
	DefaultRetention    = 24 * time.Hour
	DefaultReapInterval = time.Hour
)

// Result is what a finished build hands back: the sealed archive, the
// filename for Content-Disposition, and an optional storage URL.
type Result struct {
	Data []byte
	URL  string
}

// RunFunc executes one archive build. It must honour ctx cancellation.
type RunFunc func(ctx context.Context, prog *archive.Progress) (Result, error)

type record struct {
	id          string
	status      s.TaskStatus
	createdAt   time.Time
	completedAt time.Time
	filename    string
	errMsg      string
	result      Result
	claimed     bool
	prog        *archive.Progress
	cancel      context.CancelFunc
}

// Supervisor owns the task records. Ids are opaque and never reused;
// transitions run queued -> running -> {completed, failed} exactly once.
type Supervisor struct {
	retention    time.Duration
	allowRefetch bool

	mu    sync.Mutex
	tasks map[string]*record

	reapStop chan struct{}
	reapOnce sync.Once
}

// New creates a supervisor. Completed results may be fetched repeatedly
// until the reaper removes them.
func New(retention time.Duration) *Supervisor {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Supervisor{
		retention:    retention,
		allowRefetch: true,
		tasks:        make(map[string]*record),
		reapStop:     make(chan struct{}),
	}
}

// Submit registers a job and starts it asynchronously, returning its id
// immediately. The job runs detached from the submitting request's context
// so a disconnecting caller does not kill it; Cancel and Stop do.
func (sv *Supervisor) Submit(filename string, run RunFunc) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	rec := &record{
		id:        id,
		status:    s.TaskQueued,
		createdAt: time.Now(),
		filename:  filename,
		prog:      &archive.Progress{},
		cancel:    cancel,
	}

	sv.mu.Lock()
	sv.tasks[id] = rec
	sv.mu.Unlock()

	go sv.execute(ctx, rec, run)
	return id
}

func (sv *Supervisor) execute(ctx context.Context, rec *record, run RunFunc) {
	sv.mu.Lock()
	rec.status = s.TaskRunning
	sv.mu.Unlock()

	result, err := run(ctx, rec.prog)

	sv.mu.Lock()
	defer sv.mu.Unlock()
	rec.completedAt = time.Now()
	if err != nil {
		rec.status = s.TaskFailed
		rec.errMsg = err.Error()
		log.Warn().Str("task_id", rec.id).Err(err).Msg("Background download failed")
		return
	}
	rec.status = s.TaskCompleted
	rec.result = result
	log.Info().Str("task_id", rec.id).
		Int64("files", rec.prog.Processed()).
		Int("size_bytes", len(result.Data)).
		Msg("Background download completed")
}

// Status returns a snapshot of the task record.
func (sv *Supervisor) Status(id string) (s.TaskInfo, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	rec, ok := sv.tasks[id]
	if !ok {
		return s.TaskInfo{}, e.ErrTaskNotFound
	}

	info := s.TaskInfo{
		ID:         rec.id,
		Status:     rec.status,
		CreatedAt:  rec.createdAt,
		Filename:   rec.filename,
		Discovered: rec.prog.Discovered(),
		Processed:  rec.prog.Processed(),
		Error:      rec.errMsg,
	}
	if !rec.completedAt.IsZero() {
		t := rec.completedAt
		info.CompletedAt = &t
	}
	if rec.status == s.TaskCompleted {
		info.DownloadURL = rec.result.URL
	}
	return info, nil
}

// ClaimResult hands out the sealed archive of a completed task.
func (sv *Supervisor) ClaimResult(id string) ([]byte, string, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	rec, ok := sv.tasks[id]
	if !ok {
		return nil, "", e.ErrTaskNotFound
	}
	if rec.status != s.TaskCompleted {
		return nil, "", e.ErrTaskNotFinished
	}
	if rec.claimed && !sv.allowRefetch {
		return nil, "", e.ErrTaskNotFound
	}
	rec.claimed = true
	return rec.result.Data, rec.filename, nil
}

// Cancel aborts a queued or running task. Completed and failed tasks are
// left alone.
func (sv *Supervisor) Cancel(id string) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	rec, ok := sv.tasks[id]
	if !ok {
		return e.ErrTaskNotFound
	}
	rec.cancel()
	return nil
}

// StartReaper removes records older than the retention window on a periodic
// tick. Expiry is not checked on access.
func (sv *Supervisor) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sv.reap(time.Now())
			case <-sv.reapStop:
				return
			}
		}
	}()
}

func (sv *Supervisor) reap(now time.Time) {
	cutoff := now.Add(-sv.retention)

	sv.mu.Lock()
	defer sv.mu.Unlock()
	for id, rec := range sv.tasks {
		ref := rec.completedAt
		if ref.IsZero() {
			ref = rec.createdAt
		}
		if ref.Before(cutoff) {
			rec.cancel()
			delete(sv.tasks, id)
			log.Debug().Str("task_id", id).Msg("Reaped expired task record")
		}
	}
}

// Stop cancels every task and halts the reaper.
func (sv *Supervisor) Stop() {
	sv.reapOnce.Do(func() { close(sv.reapStop) })

	sv.mu.Lock()
	defer sv.mu.Unlock()
	for _, rec := range sv.tasks {
		rec.cancel()
	}
}
