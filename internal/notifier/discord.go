package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/stevedev/verifetch/internal/storage"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return errors.New("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// Recorder announces finished transfers through a Notifier.
type Recorder struct {
	Notifier Notifier
}

func (r *Recorder) Record(ctx context.Context, log storage.DownloadLog) error {
	return r.Notifier.Notify(ctx, Message(log))
}

// Message renders a one-line announcement for a finished transfer.
func Message(log storage.DownloadLog) string {
	switch log.Result {
	case storage.ResultSuccess:
		return fmt.Sprintf("✅ Download finished: %s (%s in %s)", log.FileName, humanize.Bytes(uint64(log.Size)), log.Duration.Round(1e6))
	case storage.ResultHashMismatch:
		return fmt.Sprintf("⚠️ Hash mismatch for %s: expected %s, got %s", log.FileName, log.ExpectedHash, log.ComputedHash)
	case storage.ResultCancelled:
		return "⏹️ Download cancelled: " + log.FileName
	default:
		return fmt.Sprintf("❌ Download failed for %s: %s", log.FileName, log.ErrorMessage)
	}
}
