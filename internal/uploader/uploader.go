// Package uploader drives a resilient chunked upload from the client
// side: it opens a session, slices the source file, keeps an adaptive
// number of chunks in flight, retries with backoff, aborts stuck
// attempts, and periodically resyncs against the server's view so a
// lost response never re-sends bytes the server already has.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/programadorcaro/nenoflix-uploader/internal/progress"
	"github.com/programadorcaro/nenoflix-uploader/pkg/protocol"
)

var errSessionGone = errors.New("upload session not found on server")

const (
	defaultProgressInterval = 250 * time.Millisecond
	defaultResyncInterval   = 10 * time.Second

	// finalize retries after the server reports lost chunks
	maxFinalizeRounds = 3
)

// Options configures an upload run.
type Options struct {
	ServerURL       string
	FilePath        string
	FileName        string // destination name; defaults to the source base name
	FolderName      string
	DestinationPath string
	ChunkSize       int64 // optional override; the server plans when zero

	HTTPClient *http.Client
	Logger     *slog.Logger
	Records    *RecordStore // optional resume store
	Controller *Controller  // injected in tests

	ProgressInterval time.Duration
	ResyncInterval   time.Duration
}

// ProgressUpdate is one point-in-time view of the transfer, emitted on
// a fixed cadence while the upload runs.
type ProgressUpdate struct {
	UploadID    string
	FileName    string
	BytesDone   int64
	TotalBytes  int64
	Percent     float64
	RateBps     float64
	ETA         time.Duration
	ChunksDone  int
	TotalChunks int
}

// Orchestrator uploads one file to one server.
type Orchestrator struct {
	opts   Options
	api    *apiClient
	ctrl   *Controller
	meter  *progress.Meter
	logger *slog.Logger

	onProgress func(ProgressUpdate)

	uploadID     string
	fileName     string
	totalSize    int64
	chunkSize    int64
	tasks        []*chunkTask
	resumedBytes int64

	mu      sync.Mutex
	heldETA time.Duration
}

// New creates an orchestrator for opts. The upload does not start
// until Run is called.
func New(opts Options) (*Orchestrator, error) {
	if opts.ServerURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if opts.FilePath == "" {
		return nil, fmt.Errorf("file path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Controller == nil {
		opts.Controller = NewController()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = defaultResyncInterval
	}
	fileName := opts.FileName
	if fileName == "" {
		fileName = filepath.Base(opts.FilePath)
	}
	return &Orchestrator{
		opts:     opts,
		api:      newAPIClient(opts.ServerURL, opts.HTTPClient),
		ctrl:     opts.Controller,
		meter:    progress.NewMeter(),
		logger:   opts.Logger,
		fileName: fileName,
	}, nil
}

// OnProgress registers the progress callback. Must be called before Run.
func (o *Orchestrator) OnProgress(fn func(ProgressUpdate)) {
	o.onProgress = fn
}

// UploadID returns the session id once Run has opened a session.
func (o *Orchestrator) UploadID() string {
	return o.uploadID
}

// Run performs the whole upload and returns the server-side path of
// the finalized file. Cancelling ctx aborts in-flight chunks; a later
// Run against the same file resumes from what the server holds.
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	f, err := os.Open(o.opts.FilePath)
	if err != nil {
		return "", fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source file: %w", err)
	}
	o.totalSize = fi.Size()
	if o.totalSize <= 0 {
		return "", fmt.Errorf("source file %s is empty", o.opts.FilePath)
	}

	if err := o.openSession(ctx); err != nil {
		return "", err
	}

	o.tasks, err = buildTasks(o.totalSize, o.chunkSize)
	if err != nil {
		return "", err
	}

	if err := o.resync(ctx, true); err != nil {
		o.logger.Warn("initial resync failed", "upload_id", o.uploadID, "error", err)
	}
	o.meter.Start(o.totalSize - o.resumedBytes)

	o.logger.Info("upload starting",
		"upload_id", o.uploadID, "file", o.fileName, "size", o.totalSize,
		"chunk_size", o.chunkSize, "chunks", len(o.tasks),
		"resumed_bytes", o.resumedBytes)

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); o.progressLoop(runCtx) }()
	go func() { defer wg.Done(); o.tuneLoop(runCtx) }()
	go func() { defer wg.Done(); o.resyncLoop(runCtx) }()

	err = o.dispatch(runCtx, f)
	cancel()
	wg.Wait()
	if err != nil {
		return "", err
	}

	path, err := o.finalize(ctx, f)
	if err != nil {
		return "", err
	}

	if o.opts.Records != nil {
		if derr := o.opts.Records.Delete(ctx, o.opts.FilePath); derr != nil {
			o.logger.Warn("failed to clear resume record", "error", derr)
		}
	}
	o.emit()
	o.logger.Info("upload finalized", "upload_id", o.uploadID, "path", path)
	return path, nil
}

// openSession resumes a persisted session when the server still knows
// it, otherwise opens a fresh one and persists the record.
func (o *Orchestrator) openSession(ctx context.Context) error {
	if o.opts.Records != nil {
		rec, ok, err := o.opts.Records.Get(ctx, o.opts.FilePath)
		if err != nil {
			o.logger.Warn("failed to read resume record", "error", err)
		}
		if ok && rec.TotalSize == o.totalSize && rec.ServerURL == o.api.baseURL {
			if _, err := o.api.status(ctx, rec.UploadID); err == nil {
				o.uploadID = rec.UploadID
				o.chunkSize = rec.ChunkSize
				o.logger.Info("resuming upload session", "upload_id", rec.UploadID)
				return nil
			}
			// Stale record; the server evicted the session.
			_ = o.opts.Records.Delete(ctx, o.opts.FilePath)
		}
	}

	resp, err := o.api.initUpload(ctx, protocol.InitRequest{
		FileName:         o.fileName,
		FolderName:       o.opts.FolderName,
		DestinationPath:  o.opts.DestinationPath,
		TotalSize:        o.totalSize,
		ChunkSize:        o.opts.ChunkSize,
		OriginalFileName: filepath.Base(o.opts.FilePath),
	})
	if err != nil {
		return err
	}
	o.uploadID = resp.UploadID
	o.chunkSize = resp.ChunkSize

	if o.opts.Records != nil {
		err := o.opts.Records.Put(ctx, Record{
			UploadID:  o.uploadID,
			FilePath:  o.opts.FilePath,
			FileName:  o.fileName,
			TotalSize: o.totalSize,
			ChunkSize: o.chunkSize,
			ServerURL: o.api.baseURL,
			CreatedAt: time.Now(),
		})
		if err != nil {
			o.logger.Warn("failed to persist resume record", "error", err)
		}
	}
	return nil
}

// resync pulls the server's chunk inventory and marks as done every
// pending chunk the server already holds. On the initial call the
// pre-done bytes are credited so progress starts where the last run
// stopped.
func (o *Orchestrator) resync(ctx context.Context, initial bool) error {
	st, err := o.api.status(ctx, o.uploadID)
	if err != nil {
		return err
	}
	missing := make(map[int]struct{}, len(st.MissingChunks))
	for _, idx := range st.MissingChunks {
		missing[idx] = struct{}{}
	}
	for _, t := range o.tasks {
		if _, gone := missing[t.index]; gone {
			continue
		}
		if t.isPending() {
			t.markDone()
			if initial {
				o.resumedBytes += t.size()
			} else {
				o.meter.Add(int(t.size()))
			}
		}
	}
	return nil
}

type attemptResult struct {
	task  *chunkTask
	stuck bool
	err   error
}

// dispatch runs chunk attempts until every task is done or one fails
// permanently. The in-flight budget follows the controller; failed
// attempts requeue with backoff, stuck-aborted ones immediately.
func (o *Orchestrator) dispatch(ctx context.Context, f *os.File) error {
	results := make(chan attemptResult, len(o.tasks))
	eligible := make([]time.Time, len(o.tasks))
	inFlight := 0

	for {
		if o.pendingCount() == 0 && inFlight == 0 {
			return nil
		}

		now := time.Now()
		for inFlight < o.ctrl.Parallelism() {
			t := o.nextLaunchable(now, eligible)
			if t == nil {
				break
			}
			inFlight++
			go o.attempt(ctx, f, t, results)
		}

		var wake <-chan time.Time
		if inFlight == 0 {
			wake = time.After(o.untilNextEligible(now, eligible))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			inFlight--
			if res.err == nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempts := res.task.attemptCount()
			if attempts >= maxAttempts {
				return fmt.Errorf("chunk %d failed after %d attempts: %w",
					res.task.index, attempts, res.err)
			}
			if res.stuck {
				// A stalled connection already cost its wait; go again
				// right away.
				eligible[res.task.index] = time.Now()
				o.logger.Warn("stuck chunk aborted, retrying",
					"upload_id", o.uploadID, "chunk", res.task.index, "attempt", attempts)
			} else {
				delay := o.ctrl.NextBackoff(attempts)
				eligible[res.task.index] = time.Now().Add(delay)
				o.logger.Warn("chunk attempt failed",
					"upload_id", o.uploadID, "chunk", res.task.index,
					"attempt", attempts, "retry_in", delay, "error", res.err)
			}
		case <-wake:
		}
	}
}

func (o *Orchestrator) pendingCount() int {
	n := 0
	for _, t := range o.tasks {
		if t.isPending() {
			n++
		}
	}
	return n
}

func (o *Orchestrator) nextLaunchable(now time.Time, eligible []time.Time) *chunkTask {
	for _, t := range o.tasks {
		if t.isPending() && !eligible[t.index].After(now) {
			return t
		}
	}
	return nil
}

func (o *Orchestrator) untilNextEligible(now time.Time, eligible []time.Time) time.Duration {
	wait := time.Second
	for _, t := range o.tasks {
		if !t.isPending() {
			continue
		}
		if d := eligible[t.index].Sub(now); d > 0 && d < wait {
			wait = d
		}
	}
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

// attempt sends one chunk. The section reader addresses the chunk's
// byte range directly, so concurrent attempts share one file handle.
func (o *Orchestrator) attempt(ctx context.Context, f *os.File, t *chunkTask, results chan<- attemptResult) {
	timeout := o.ctrl.NextTimeout(t.size(), o.meter.Rate())
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t.beginAttempt(time.Now(), cancel)

	section := io.NewSectionReader(f, t.start, t.size())
	_, err := o.api.sendChunk(attemptCtx, o.uploadID, t.index, section, func(n int) {
		t.addSent(int64(n))
		o.meter.Add(n)
	})

	stuck := t.takeStuck()
	if err != nil {
		o.meter.Discount(t.sent())
		t.finish(false)
	} else {
		t.finish(true)
	}
	results <- attemptResult{task: t, stuck: stuck, err: err}
}

// tuneLoop adjusts parallelism and aborts stuck attempts on the
// controller's cadence.
func (o *Orchestrator) tuneLoop(ctx context.Context) {
	ticker := time.NewTicker(adjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rate := o.meter.Rate()
			o.ctrl.Adjust(rate)
			now := time.Now()
			for _, t := range o.tasks {
				startedAt, sent, ok := t.inFlightSince()
				if !ok {
					continue
				}
				if o.ctrl.Stuck(now.Sub(startedAt), sent, t.size(), rate) {
					t.abortStuck()
				}
			}
		}
	}
}

func (o *Orchestrator) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(o.opts.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.resync(ctx, false); err != nil && ctx.Err() == nil {
				o.logger.Warn("resync failed", "upload_id", o.uploadID, "error", err)
			}
		}
	}
}

func (o *Orchestrator) progressLoop(ctx context.Context) {
	ticker := time.NewTicker(o.opts.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.emit()
		}
	}
}

func (o *Orchestrator) emit() {
	if o.onProgress == nil {
		return
	}
	o.onProgress(o.Progress())
}

// Progress returns the same point-in-time projection the progress
// callback receives, for callers that prefer polling.
func (o *Orchestrator) Progress() ProgressUpdate {
	stats := o.meter.Snapshot()
	done := 0
	for _, t := range o.tasks {
		if !t.isPending() {
			if _, _, inFlight := t.inFlightSince(); !inFlight {
				done++
			}
		}
	}

	update := ProgressUpdate{
		UploadID:    o.uploadID,
		FileName:    o.fileName,
		BytesDone:   o.resumedBytes + stats.BytesDone,
		TotalBytes:  o.totalSize,
		RateBps:     stats.RateBps,
		ChunksDone:  done,
		TotalChunks: len(o.tasks),
	}
	if o.totalSize > 0 {
		update.Percent = float64(update.BytesDone) / float64(o.totalSize) * 100
	}

	// The first sample with a settled rate fixes the ETA; later
	// samples reuse it so the estimate never jitters as the smoothed
	// rate moves. It clears once the transfer finishes.
	o.mu.Lock()
	if o.heldETA == 0 && stats.ETA > 0 && update.BytesDone > 0 {
		o.heldETA = stats.ETA
	}
	eta := o.heldETA
	o.mu.Unlock()
	if update.BytesDone >= update.TotalBytes {
		eta = 0
	}
	update.ETA = eta

	return update
}

// finalize asks the server to assemble and relocate the file. When the
// server reports chunks it never received, those are requeued and
// re-sent before trying again.
func (o *Orchestrator) finalize(ctx context.Context, f *os.File) (string, error) {
	for round := 0; round < maxFinalizeRounds; round++ {
		resp, err := o.api.complete(ctx, o.uploadID)
		if err == nil && resp.Success {
			return resp.Path, nil
		}
		if len(resp.MissingChunks) == 0 {
			if err == nil {
				err = fmt.Errorf("finalize rejected: %s", resp.Error)
			}
			return "", err
		}

		o.logger.Warn("server reported missing chunks at finalize",
			"upload_id", o.uploadID, "missing", resp.MissingChunks)
		for _, idx := range resp.MissingChunks {
			if idx < 0 || idx >= len(o.tasks) {
				continue
			}
			t := o.tasks[idx]
			t.requeue()
			o.meter.Discount(t.size())
		}
		if err := o.dispatch(ctx, f); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("upload %s could not be finalized after %d rounds", o.uploadID, maxFinalizeRounds)
}
