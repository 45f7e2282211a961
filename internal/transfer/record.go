package transfer

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stevedev/verifetch/internal/fileutil"
)

// Record is the live state of one transfer. Its identity fields never change;
// the rest is guarded by mu and frozen once the status is terminal.
type Record struct {
	ID           string
	URL          string
	ExpectedHash string

	mu              sync.RWMutex
	dir             string
	fileName        string
	destinationPath string
	status          Status
	totalSize       int64
	downloadedSize  int64
	progressPercent float64
	computedHash    string
	hashAlgorithm   string
	startTime       time.Time
	endTime         time.Time
	errorMessage    string
	cancelRequested bool
}

// Snapshot is a point-in-time copy of a Record, safe to hand to other goroutines.
type Snapshot struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	FileName        string    `json:"file_name"`
	DestinationPath string    `json:"destination_path"`
	Status          Status    `json:"status"`
	TotalSize       int64     `json:"total_size"`
	DownloadedSize  int64     `json:"downloaded_size"`
	ProgressPercent float64   `json:"progress_percent"`
	ComputedHash    string    `json:"computed_hash,omitempty"`
	ExpectedHash    string    `json:"expected_hash,omitempty"`
	HashAlgorithm   string    `json:"hash_algorithm,omitempty"`
	StartTime       time.Time `json:"start_time,omitzero"`
	EndTime         time.Time `json:"end_time,omitzero"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CancelRequested bool      `json:"cancel_requested"`
}

// Duration is the time spent between start and end, or zero when the
// transfer never started or has not finished.
func (s Snapshot) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}

	return s.EndTime.Sub(s.StartTime)
}

// NewRecord creates a pending record that will write into dir. An empty
// fileName is derived from the URL.
func NewRecord(rawURL, dir, fileName, expectedHash string) *Record {
	name := fileutil.Sanitize(fileName)
	if name == "" {
		name = fileutil.FileNameFromURL(rawURL, time.Now())
	}

	return &Record{
		ID:              uuid.NewString(),
		URL:             rawURL,
		ExpectedHash:    strings.TrimSpace(expectedHash),
		dir:             dir,
		fileName:        name,
		destinationPath: filepath.Join(dir, name),
		status:          StatusPending,
	}
}

// Snapshot copies the current state.
func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		ID:              r.ID,
		URL:             r.URL,
		FileName:        r.fileName,
		DestinationPath: r.destinationPath,
		Status:          r.status,
		TotalSize:       r.totalSize,
		DownloadedSize:  r.downloadedSize,
		ProgressPercent: r.progressPercent,
		ComputedHash:    r.computedHash,
		ExpectedHash:    r.ExpectedHash,
		HashAlgorithm:   r.hashAlgorithm,
		StartTime:       r.startTime,
		EndTime:         r.endTime,
		ErrorMessage:    r.errorMessage,
		CancelRequested: r.cancelRequested,
	}
}

// Status returns the current status.
func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.status
}

// DestinationPath returns where the file is being written.
func (r *Record) DestinationPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.destinationPath
}

// FileName returns the current target file name.
func (r *Record) FileName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.fileName
}

// update applies fn unless the record is already terminal.
func (r *Record) update(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return false
	}

	fn()

	return true
}

func (r *Record) start(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusPending {
		return false
	}

	r.status = StatusDownloading
	r.startTime = now

	return true
}

func (r *Record) setStatus(s Status) {
	r.update(func() { r.status = s })
}

func (r *Record) rename(name string) {
	r.update(func() {
		r.fileName = name
		r.destinationPath = filepath.Join(r.dir, name)
	})
}

func (r *Record) setTotalSize(n int64) {
	r.update(func() {
		r.totalSize = n
		r.recomputeProgress()
	})
}

func (r *Record) addDownloaded(n int64) {
	r.update(func() {
		r.downloadedSize += n
		r.recomputeProgress()
	})
}

func (r *Record) setHash(digest, algorithm string) {
	r.update(func() {
		r.computedHash = digest
		r.hashAlgorithm = algorithm
	})
}

func (r *Record) markCancelRequested() {
	r.update(func() { r.cancelRequested = true })
}

// finish moves the record into a terminal status. Only the first caller wins.
func (r *Record) finish(s Status, message string, now time.Time) bool {
	return r.update(func() {
		r.status = s
		r.errorMessage = message
		r.endTime = now
	})
}

func (r *Record) recomputeProgress() {
	if r.totalSize > 0 {
		r.progressPercent = float64(r.downloadedSize) / float64(r.totalSize) * 100
	}
}
