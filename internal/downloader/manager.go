package downloader

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/stevedev/verifetch/internal/logctx"
	"github.com/stevedev/verifetch/internal/storage"
	"github.com/stevedev/verifetch/internal/telemetry"
	"github.com/stevedev/verifetch/internal/transfer"
)

const (
	defaultDownloadDir    = "downloads"
	defaultShutdownGrace  = 30 * time.Second
	defaultConnectTimeout = 30 * time.Second
	defaultReadTimeout    = 5 * time.Minute

	// retainFinished bounds how many finished transfers stay queryable in memory.
	retainFinished = 1000
)

var (
	ErrManagerClosed      = errors.New("download manager is closed")
	ErrInvalidConcurrency = errors.New("max concurrent downloads must be greater than zero")
	ErrShutdownTimeout    = errors.New("workers did not stop within the shutdown grace period")
)

// Options configures a Manager.
type Options struct {
	MaxConcurrent int
	DownloadDir   string

	// Client overrides the HTTP transport. When nil a client is built from
	// ConnectTimeout and ReadTimeout.
	Client         transfer.Doer
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// RateLimit caps each transfer in bytes per second. Zero means unlimited.
	RateLimit     int64
	ShutdownGrace time.Duration

	Recorder  storage.Recorder
	Telemetry *telemetry.Telemetry
}

// Stats are running totals for the manager's lifetime.
type Stats struct {
	Active          int   `json:"active"`
	Queued          int   `json:"queued"`
	Completed       int64 `json:"completed"`
	Failed          int64 `json:"failed"`
	Cancelled       int64 `json:"cancelled"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
}

type entry struct {
	task *transfer.Task
	done chan struct{}
	once sync.Once
}

// Manager runs transfers on a fixed pool of workers.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	dir         string
	client      transfer.Doer
	idleCloser  interface{ CloseIdleConnections() }
	taskOptions []transfer.Option
	grace       time.Duration
	recorder    storage.Recorder
	telemetry   *telemetry.Telemetry
	listener    atomic.Pointer[transfer.Listener]

	mu       sync.Mutex
	cond     *sync.Cond
	closed   bool
	queue    []*entry
	entries  map[string]*entry // queued or running
	running  map[string]*entry
	records  map[string]*transfer.Record
	finished []string

	completed, failed, cancelled, bytes atomic.Int64

	shutdownOnce sync.Once
}

// New starts a manager with opts.MaxConcurrent workers. The workers live
// until Shutdown; ctx supplies their logger.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.MaxConcurrent <= 0 {
		return nil, ErrInvalidConcurrency
	}

	if opts.DownloadDir == "" {
		opts.DownloadDir = defaultDownloadDir
	}

	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}

	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}

	client := opts.Client
	if client == nil {
		client = newHTTPClient(opts)
	}

	ctx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:       ctx,
		cancel:    cancel,
		dir:       opts.DownloadDir,
		client:    transfer.NewInstrumentedDoer(client, opts.Telemetry, "http"),
		grace:     opts.ShutdownGrace,
		recorder:  opts.Recorder,
		telemetry: opts.Telemetry,
		entries:   make(map[string]*entry),
		running:   make(map[string]*entry),
		records:   make(map[string]*transfer.Record),
	}

	if c, ok := client.(interface{ CloseIdleConnections() }); ok {
		m.idleCloser = c
	}

	m.cond = sync.NewCond(&m.mu)
	m.taskOptions = []transfer.Option{
		transfer.WithListener(m.notify),
		transfer.WithRateLimit(opts.RateLimit),
		transfer.WithReadTimeout(opts.ReadTimeout),
		transfer.WithTelemetry(opts.Telemetry),
	}

	wg, wctx := errgroup.WithContext(ctx)

	for range opts.MaxConcurrent {
		wg.Go(func() error {
			m.work(wctx)

			return nil
		})
	}

	m.group = wg

	// Workers idle on the queue must also wake when the parent context ends.
	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.closed = true
		m.cond.Broadcast()
		m.mu.Unlock()
	})

	logctx.LoggerFromContext(ctx).Info("download manager started",
		"max_concurrent", opts.MaxConcurrent,
		"download_dir", opts.DownloadDir,
		"rate_limit_bps", opts.RateLimit,
	)

	return m, nil
}

func newHTTPClient(opts Options) *http.Client {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   opts.MaxConcurrent,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{Transport: otelhttp.NewTransport(base)}
}

// SetListener installs the progress sink, replacing any previous one. A nil
// listener disables notifications.
func (m *Manager) SetListener(l transfer.Listener) {
	if l == nil {
		m.listener.Store(nil)

		return
	}

	m.listener.Store(&l)
}

func (m *Manager) notify(s transfer.Snapshot) {
	if l := m.listener.Load(); l != nil {
		(*l)(s)
	}
}

// Submit queues a download and returns its initial Pending state without
// waiting for a worker. An empty fileName is derived from the URL.
func (m *Manager) Submit(rawURL, fileName, expectedHash string) (transfer.Snapshot, error) {
	rec := transfer.NewRecord(rawURL, m.dir, fileName, expectedHash)
	e := &entry{
		task: transfer.NewTask(rec, m.client, m.taskOptions...),
		done: make(chan struct{}),
	}
	snap := rec.Snapshot()

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return transfer.Snapshot{}, ErrManagerClosed
	}

	m.entries[rec.ID] = e
	m.records[rec.ID] = rec
	m.queue = append(m.queue, e)
	m.cond.Signal()
	m.mu.Unlock()

	m.telemetry.AddQueuedTransfers(m.ctx, 1)

	logctx.LoggerFromContext(m.ctx).Debug("transfer queued", "transfer_id", rec.ID, "url", rawURL, "file", snap.FileName)

	return snap, nil
}

// Cancel stops the transfer with the given ID. A queued transfer is finalized
// at once. It reports whether the ID was queued or running.
func (m *Manager) Cancel(id string) bool {
	return m.stop(id, (*transfer.Task).Cancel)
}

// Pause stops the transfer like Cancel but labels it Paused.
func (m *Manager) Pause(id string) bool {
	return m.stop(id, (*transfer.Task).Pause)
}

func (m *Manager) stop(id string, stop func(*transfer.Task)) bool {
	m.mu.Lock()

	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()

		return false
	}

	queued := len(m.queue)
	m.queue = slices.DeleteFunc(m.queue, func(q *entry) bool { return q == e })
	dequeued := len(m.queue) < queued

	m.mu.Unlock()

	stop(e.task)

	// Only the caller that took the entry off the queue finalizes it; running
	// entries are finalized by their worker.
	if dequeued {
		m.telemetry.AddQueuedTransfers(m.ctx, -1)
		m.complete(e)
	}

	return true
}

// CancelAll cancels every queued and running transfer.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))

	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Cancel(id)
	}
}

// IsActive reports whether the transfer is running on a worker.
func (m *Manager) IsActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.running[id]

	return ok
}

// ActiveCount returns how many transfers are running. It never exceeds the
// worker count.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.running)
}

// QueuedCount returns how many transfers wait for a worker.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue)
}

// Lookup returns the current state of a transfer known to the manager.
func (m *Manager) Lookup(id string) (transfer.Snapshot, bool) {
	m.mu.Lock()
	rec, ok := m.records[id]
	m.mu.Unlock()

	if !ok {
		return transfer.Snapshot{}, false
	}

	return rec.Snapshot(), true
}

// Snapshots returns the state of every transfer still held in memory, oldest
// start first with queued transfers last.
func (m *Manager) Snapshots() []transfer.Snapshot {
	m.mu.Lock()
	snaps := make([]transfer.Snapshot, 0, len(m.records))

	for _, rec := range m.records {
		snaps = append(snaps, rec.Snapshot())
	}
	m.mu.Unlock()

	slices.SortStableFunc(snaps, func(a, b transfer.Snapshot) int {
		switch {
		case a.StartTime.IsZero() && !b.StartTime.IsZero():
			return 1
		case !a.StartTime.IsZero() && b.StartTime.IsZero():
			return -1
		default:
			return a.StartTime.Compare(b.StartTime)
		}
	})

	return snaps
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active, queued := len(m.running), len(m.queue)
	m.mu.Unlock()

	return Stats{
		Active:          active,
		Queued:          queued,
		Completed:       m.completed.Load(),
		Failed:          m.failed.Load(),
		Cancelled:       m.cancelled.Load(),
		BytesDownloaded: m.bytes.Load(),
	}
}

// Wait blocks until the transfer has finished or ctx ends. Unknown or
// already finished transfers return immediately.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()

	if !ok {
		return nil
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll blocks until no transfer is queued or running, or ctx ends.
func (m *Manager) WaitAll(ctx context.Context) error {
	for {
		m.mu.Lock()
		pending := make([]*entry, 0, len(m.entries))

		for _, e := range m.entries {
			pending = append(pending, e)
		}
		m.mu.Unlock()

		if len(pending) == 0 {
			return nil
		}

		for _, e := range pending {
			select {
			case <-e.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Shutdown stops admitting work, cancels every transfer and waits up to the
// grace period for workers to exit before forcing them. Later calls return
// ErrManagerClosed.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := ErrManagerClosed

	m.shutdownOnce.Do(func() {
		logger := logctx.LoggerFromContext(m.ctx)
		logger.Info("shutting down download manager", "active", m.ActiveCount(), "queued", m.QueuedCount())

		m.mu.Lock()
		m.closed = true
		m.cond.Broadcast()
		m.mu.Unlock()

		m.CancelAll()

		ctx, cancel := context.WithTimeout(ctx, m.grace)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- m.group.Wait() }()

		select {
		case err = <-done:
		case <-ctx.Done():
			logger.Warn("forcing download workers to stop", "grace", m.grace)

			err = ErrShutdownTimeout
		}

		m.cancel()

		if m.idleCloser != nil {
			m.idleCloser.CloseIdleConnections()
		}
	})

	return err
}

func (m *Manager) work(ctx context.Context) {
	for {
		e, ok := m.next()
		if !ok {
			return
		}

		_ = e.task.Run(ctx)

		m.complete(e)
	}
}

// next blocks until a transfer is queued and moves it to the running set.
func (m *Manager) next() (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}

	if len(m.queue) == 0 {
		return nil, false
	}

	e := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.running[e.task.Record().ID] = e

	m.telemetry.AddQueuedTransfers(m.ctx, -1)

	return e, true
}

// complete removes a finished transfer from the active set, then records it.
// It runs once per entry.
func (m *Manager) complete(e *entry) {
	e.once.Do(func() {
		rec := e.task.Record()

		m.mu.Lock()
		delete(m.entries, rec.ID)
		delete(m.running, rec.ID)
		m.finished = append(m.finished, rec.ID)

		if len(m.finished) > retainFinished {
			delete(m.records, m.finished[0])
			m.finished = m.finished[1:]
		}
		m.mu.Unlock()

		snap := rec.Snapshot()
		log := storage.NewDownloadLog(snap, time.Now())

		switch log.Result {
		case storage.ResultSuccess:
			m.completed.Add(1)
		case storage.ResultCancelled:
			m.cancelled.Add(1)
		default:
			m.failed.Add(1)
		}

		m.bytes.Add(snap.DownloadedSize)
		m.telemetry.RecordTransfer(m.ctx, log.Result, snap.Duration())

		if m.recorder != nil {
			ctx := logctx.WithTransferID(context.WithoutCancel(m.ctx), rec.ID)

			if err := m.recorder.Record(ctx, log); err != nil {
				logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to record download", "err", err)
				m.telemetry.RecordSystemError(ctx, "storage", "record_failed")
			}
		}

		close(e.done)
	})
}
