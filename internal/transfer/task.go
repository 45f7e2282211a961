package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/stevedev/verifetch/internal/fileutil"
	"github.com/stevedev/verifetch/internal/hashverify"
	"github.com/stevedev/verifetch/internal/logctx"
	"github.com/stevedev/verifetch/internal/progress"
	"github.com/stevedev/verifetch/internal/telemetry"
)

const (
	// ChunkSize is the unit of every body read and file write.
	ChunkSize = 8 * 1024

	// ReportInterval is the most bytes written between two progress notifications.
	ReportInterval = 64 * 1024
)

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Listener receives progress and the terminal state of a transfer. It runs on
// the worker goroutine and must return quickly.
type Listener func(Snapshot)

// Option configures a Task.
type Option func(*Task)

// WithListener sets the progress sink.
func WithListener(l Listener) Option {
	return func(t *Task) { t.listener = l }
}

// WithRateLimit caps the transfer at bytesPerSecond. Zero or less means unlimited.
func WithRateLimit(bytesPerSecond int64) Option {
	return func(t *Task) {
		if bytesPerSecond <= 0 {
			t.limiter = nil

			return
		}

		t.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), max(int(bytesPerSecond), ChunkSize))
	}
}

// WithReadTimeout aborts the transfer when the body yields no data for d.
func WithReadTimeout(d time.Duration) Option {
	return func(t *Task) { t.readTimeout = d }
}

// WithTelemetry records transfer metrics and spans.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(t *Task) { t.telemetry = tel }
}

// Task drives one Record from Pending to a terminal status.
type Task struct {
	rec         *Record
	client      Doer
	listener    Listener
	limiter     *rate.Limiter
	readTimeout time.Duration
	telemetry   *telemetry.Telemetry

	cancelled atomic.Bool

	mu           sync.Mutex
	abort        context.CancelCauseFunc
	cancelStatus Status

	emitMu       sync.Mutex
	terminalSent bool
}

// NewTask prepares rec for execution through client.
func NewTask(rec *Record, client Doer, opts ...Option) *Task {
	t := &Task{
		rec:          rec,
		client:       client,
		cancelStatus: StatusCancelled,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Record returns the record driven by this task.
func (t *Task) Record() *Record {
	return t.rec
}

// Cancel stops the transfer, discards the partial file and finalizes the
// record as Cancelled. A running transfer is finalized by Run on its own
// goroutine, so Cancel may be called from a listener. It is a no-op once the
// record is terminal.
func (t *Task) Cancel() {
	t.stop(StatusCancelled)
}

// Pause behaves like Cancel but labels the record Paused.
func (t *Task) Pause() {
	t.stop(StatusPaused)
}

func (t *Task) stop(status Status) {
	t.mu.Lock()

	if t.cancelled.Load() || t.rec.Status().IsTerminal() {
		t.mu.Unlock()

		return
	}

	t.cancelStatus = status
	t.cancelled.Store(true)
	abort := t.abort
	t.mu.Unlock()

	t.rec.markCancelRequested()

	if abort != nil {
		abort(ErrCancelled)

		return
	}

	t.finishCancelled(context.Background())
}

// Run executes the transfer and returns once the record is terminal. The
// returned error describes why the transfer did not complete; it is nil for
// Completed.
func (t *Task) Run(ctx context.Context) error {
	ctx = logctx.WithTransferID(ctx, t.rec.ID)
	logger := logctx.LoggerFromContext(ctx)

	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	t.mu.Lock()
	if t.cancelled.Load() {
		t.mu.Unlock()
		t.finishCancelled(ctx)

		return ErrCancelled
	}

	t.abort = abort
	t.mu.Unlock()

	if !t.rec.start(time.Now()) {
		return ErrCancelled
	}

	t.emit()

	logger.InfoContext(ctx, "download started", "url", t.rec.URL, "file", t.rec.FileName())

	err := t.telemetry.InstrumentTransfer(ctx, t.execute)

	switch {
	case err == nil:
		t.finish(StatusCompleted, "")
	case errors.Is(err, ErrCancelled) || t.cancelled.Load():
		t.finishCancelled(ctx)
	default:
		var mismatch *HashMismatchError
		if errors.As(err, &mismatch) {
			t.finish(StatusHashMismatch, err.Error())
		} else {
			t.finish(StatusFailed, err.Error())
		}
	}

	snap := t.rec.Snapshot()

	logger.InfoContext(ctx, "download finished",
		"status", snap.Status.String(),
		"size", humanize.Bytes(uint64(snap.DownloadedSize)),
		"duration", snap.Duration().String(),
		"error", snap.ErrorMessage,
	)

	if snap.Status == StatusCompleted {
		return nil
	}

	if err == nil {
		return ErrCancelled
	}

	return err
}

func (t *Task) execute(ctx context.Context) error {
	resp, err := t.fetch(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.ContentLength > 0 {
		t.rec.setTotalSize(resp.ContentLength)
	}

	if name, ok := fileutil.RenameForContentType(t.rec.FileName(), resp.Header.Get("Content-Type")); ok {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "renamed from content type", "file", name)
		t.rec.rename(name)
	}

	path := t.rec.DestinationPath()

	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return &FilesystemError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}

	written, err := t.stream(ctx, resp.Body, path)
	t.telemetry.RecordBytesDownloaded(ctx, written)

	if err != nil {
		return err
	}

	if t.cancelled.Load() {
		return ErrCancelled
	}

	if snap := t.rec.Snapshot(); snap.TotalSize <= 0 {
		t.rec.setTotalSize(written)
	}

	return t.digest(ctx, path)
}

func (t *Task) fetch(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.rec.URL, nil)
	if err != nil {
		return nil, &TransportError{Op: "get", Message: err.Error(), Err: err}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.interrupted(ctx, "get", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()

		return nil, &TransportError{Op: "get", StatusCode: resp.StatusCode, Message: resp.Status}
	}

	return resp, nil
}

// stream copies body into path chunk by chunk, checking for cancellation
// before every write.
func (t *Task) stream(ctx context.Context, body io.Reader, path string) (written int64, err error) {
	f, err := fileutil.Create(path)
	if err != nil {
		return 0, &FilesystemError{Op: "create", Path: path, Err: err}
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &FilesystemError{Op: "close", Path: path, Err: cerr}
		}
	}()

	body, stopWatch := t.watch(body)
	defer stopWatch()

	meter := progress.NewMeter(ReportInterval)
	buf := make([]byte, ChunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if t.cancelled.Load() {
				return meter.Total(), ErrCancelled
			}

			if t.limiter != nil {
				if err := t.limiter.WaitN(ctx, n); err != nil {
					return meter.Total(), t.interrupted(ctx, "read", err)
				}
			}

			if _, err := f.Write(buf[:n]); err != nil {
				return meter.Total(), &FilesystemError{Op: "write", Path: path, Err: err}
			}

			t.rec.addDownloaded(int64(n))

			if meter.Add(int64(n)) {
				t.emit()
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}

		if rerr != nil {
			return meter.Total(), t.interrupted(ctx, "read", rerr)
		}
	}

	if meter.Pending() {
		t.emit()
	}

	return meter.Total(), nil
}

// watch arms the read inactivity watchdog around body.
func (t *Task) watch(body io.Reader) (io.Reader, func()) {
	if t.readTimeout <= 0 {
		return body, func() {}
	}

	timer := time.AfterFunc(t.readTimeout, func() {
		t.mu.Lock()
		abort := t.abort
		t.mu.Unlock()

		if abort != nil {
			abort(ErrReadTimeout)
		}
	})

	return &idleReader{r: body, timer: timer, timeout: t.readTimeout}, func() { timer.Stop() }
}

// interrupted classifies an error raised while the request context may have
// been aborted.
func (t *Task) interrupted(ctx context.Context, op string, err error) error {
	if t.cancelled.Load() {
		return ErrCancelled
	}

	cause := context.Cause(ctx)

	switch {
	case errors.Is(cause, ErrReadTimeout):
		return &TransportError{Op: op, Message: fmt.Sprintf("no data received for %s", t.readTimeout), Err: ErrReadTimeout}
	case ctx.Err() != nil:
		// The caller's context ended: treat it as a cancel.
		t.cancelled.Store(true)

		return ErrCancelled
	default:
		return &TransportError{Op: op, Message: err.Error(), Err: err}
	}
}

// digest verifies the file against the expected hash, or records a hash when
// none was supplied.
func (t *Task) digest(ctx context.Context, path string) error {
	logger := logctx.LoggerFromContext(ctx)

	if t.rec.ExpectedHash == "" {
		return t.recordHash(ctx, path, "record_only")
	}

	alg, ok := hashverify.DetectAlgorithm(t.rec.ExpectedHash)
	if !ok {
		logger.WarnContext(ctx, "expected hash has no recognized length, using default algorithm",
			"algorithm", hashverify.Default.String())

		alg = hashverify.Default
	}

	t.rec.setStatus(StatusVerifying)
	t.emit()

	var actual string

	err := t.telemetry.InstrumentOperation(ctx, "verify_hash", "hashverify", func(ctx context.Context) error {
		var err error
		actual, err = t.hashFile(ctx, path, alg)

		return err
	})
	if err != nil {
		if t.cancelled.Load() || ctx.Err() != nil {
			return t.interrupted(ctx, "verify", err)
		}

		logger.WarnContext(ctx, "hash verification failed, recording hash only", "err", err)
		t.telemetry.RecordHashVerification(ctx, alg.String(), "error")

		return t.recordHash(ctx, path, "record_only")
	}

	t.rec.setHash(actual, alg.String())

	if !strings.EqualFold(actual, t.rec.ExpectedHash) {
		t.telemetry.RecordHashVerification(ctx, alg.String(), "mismatch")

		return &HashMismatchError{Algorithm: alg.String(), Expected: t.rec.ExpectedHash, Actual: actual}
	}

	t.telemetry.RecordHashVerification(ctx, alg.String(), "match")

	return nil
}

func (t *Task) recordHash(ctx context.Context, path, outcome string) error {
	actual, err := t.hashFile(ctx, path, hashverify.Default)
	if err != nil {
		if t.cancelled.Load() || ctx.Err() != nil {
			return t.interrupted(ctx, "hash", err)
		}

		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to compute record hash", "err", err)
		t.telemetry.RecordHashVerification(ctx, hashverify.Default.String(), "error")

		return nil
	}

	t.rec.setHash(actual, hashverify.Default.String())
	t.telemetry.RecordHashVerification(ctx, hashverify.Default.String(), outcome)

	return nil
}

func (t *Task) hashFile(ctx context.Context, path string, alg hashverify.Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return hashverify.ComputeHash(&ctxReader{ctx: ctx, cancelled: &t.cancelled, r: f}, alg)
}

// finishCancelled removes the partial file and finalizes with the requested
// cancel status.
func (t *Task) finishCancelled(ctx context.Context) {
	t.mu.Lock()
	status := t.cancelStatus
	t.mu.Unlock()

	path := t.rec.DestinationPath()

	if err := fileutil.RemoveIfExists(path); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove partial file", "path", path, "err", err)
	}

	t.finish(status, "")
}

func (t *Task) finish(status Status, message string) {
	t.rec.finish(status, message, time.Now())
	t.emit()
}

// emit delivers the current snapshot to the listener. Nothing is delivered
// after the first terminal snapshot.
func (t *Task) emit() {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.terminalSent {
		return
	}

	snap := t.rec.Snapshot()
	if snap.Status.IsTerminal() {
		t.terminalSent = true
	}

	if t.listener != nil {
		t.listener(snap)
	}
}

type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}

	return n, err
}

type ctxReader struct {
	ctx       context.Context
	cancelled *atomic.Bool
	r         io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if cr.cancelled.Load() {
		return 0, ErrCancelled
	}

	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}

	return cr.r.Read(p)
}
