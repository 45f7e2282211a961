package transfer

import "fmt"

// Status is the lifecycle state of a transfer.
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusVerifying
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusHashMismatch
	// StatusPaused is a cancel under another name: the partial file is
	// discarded and the transfer cannot be resumed.
	StatusPaused
)

var statusNames = map[Status]string{
	StatusPending:      "pending",
	StatusDownloading:  "downloading",
	StatusVerifying:    "verifying",
	StatusCompleted:    "completed",
	StatusFailed:       "failed",
	StatusCancelled:    "cancelled",
	StatusHashMismatch: "hash_mismatch",
	StatusPaused:       "paused",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("status(%d)", int(s))
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusHashMismatch, StatusPaused:
		return true
	default:
		return false
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status

			return nil
		}
	}

	return fmt.Errorf("unknown transfer status %q", text)
}
