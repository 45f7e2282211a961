package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stevedev/verifetch/internal/downloader"
	"github.com/stevedev/verifetch/internal/transfer"
)

// BatchEntry is one item of a --batch YAML file.
type BatchEntry struct {
	URL          string `yaml:"url"`
	FileName     string `yaml:"file_name,omitempty"`
	ExpectedHash string `yaml:"expected_hash,omitempty"`
}

type getOptions struct {
	batchFile   string
	dir         string
	output      string
	hash        string
	concurrency int
	rateLimit   int64
}

func newGetCmd(a *app) *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get [URL...]",
		Short: "Download one or more URLs and verify them",
		Example: `  verifetch get https://example.com/image.iso --hash 9f86d08...
  verifetch get --batch downloads.yaml --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := collectEntries(args, opts)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("dir") {
				opts.dir = a.cfg.DownloadDir
			}

			if !cmd.Flags().Changed("concurrency") {
				opts.concurrency = a.cfg.MaxConcurrent
			}

			if !cmd.Flags().Changed("rate-limit") {
				opts.rateLimit = a.cfg.RateLimit
			}

			m, err := downloader.New(context.WithoutCancel(cmd.Context()), downloader.Options{
				MaxConcurrent:  opts.concurrency,
				DownloadDir:    opts.dir,
				ConnectTimeout: a.cfg.ConnectTimeout,
				ReadTimeout:    a.cfg.ReadTimeout,
				RateLimit:      opts.rateLimit,
				ShutdownGrace:  a.cfg.ShutdownGrace,
			})
			if err != nil {
				return err
			}

			return runGet(cmd.Context(), m, entries, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.batchFile, "batch", "b", "", "YAML file listing url, file_name and expected_hash entries")
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "downloads", "Directory to download into")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "File name for a single URL")
	cmd.Flags().StringVar(&opts.hash, "hash", "", "Expected hex digest for a single URL (md5, sha1, sha256 or sha512)")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 4, "Maximum simultaneous downloads")
	cmd.Flags().Int64Var(&opts.rateLimit, "rate-limit", 0, "Per-transfer limit in bytes per second, 0 for unlimited")

	return cmd
}

func collectEntries(args []string, opts getOptions) ([]BatchEntry, error) {
	if len(args) > 0 && opts.batchFile != "" {
		return nil, errors.New("cannot combine URL arguments with --batch")
	}

	if (opts.output != "" || opts.hash != "") && len(args) != 1 {
		return nil, errors.New("--output and --hash need exactly one URL argument")
	}

	if opts.batchFile != "" {
		return loadBatch(opts.batchFile)
	}

	if len(args) == 0 {
		return nil, errors.New("no URL or --batch file provided")
	}

	entries := make([]BatchEntry, 0, len(args))
	for _, u := range args {
		entries = append(entries, BatchEntry{URL: u, FileName: opts.output, ExpectedHash: opts.hash})
	}

	return entries, nil
}

func loadBatch(path string) ([]BatchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var entries []BatchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}

	if len(entries) == 0 {
		return nil, errors.New("batch file has no entries")
	}

	for i, e := range entries {
		if e.URL == "" {
			return nil, fmt.Errorf("batch entry %d has no url", i+1)
		}
	}

	return entries, nil
}

// runGet submits every entry, waits for all of them and prints a summary. An
// interrupt cancels whatever is still queued or running.
func runGet(ctx context.Context, m *downloader.Manager, entries []BatchEntry, stdout, stderr io.Writer) error {
	defer func() { _ = m.Shutdown(context.WithoutCancel(ctx)) }()

	printer := newProgressPrinter(stderr)
	m.SetListener(printer.Print)

	stop := context.AfterFunc(ctx, m.CancelAll)
	defer stop()

	ids := make([]string, 0, len(entries))

	for _, e := range entries {
		snap, err := m.Submit(e.URL, e.FileName, e.ExpectedHash)
		if err != nil {
			return fmt.Errorf("failed to submit %s: %w", e.URL, err)
		}

		ids = append(ids, snap.ID)
	}

	if err := m.WaitAll(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	failed := 0

	for _, id := range ids {
		snap, _ := m.Lookup(id)
		if snap.Status != transfer.StatusCompleted {
			failed++
		}

		fmt.Fprintln(stdout, summaryLine(snap))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers did not complete", failed, len(ids))
	}

	return nil
}

func summaryLine(s transfer.Snapshot) string {
	switch s.Status {
	case transfer.StatusCompleted:
		return fmt.Sprintf("OK    %s  %s  %s  %s:%s",
			s.DestinationPath, humanize.Bytes(uint64(s.DownloadedSize)),
			s.Duration().Round(time.Millisecond), s.HashAlgorithm, s.ComputedHash)
	default:
		return fmt.Sprintf("FAIL  %s  %s  %s", s.URL, s.Status, s.ErrorMessage)
	}
}

// progressPrinter writes a line whenever a transfer changes status or crosses
// another ten percent.
type progressPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	status map[string]transfer.Status
	decile map[string]int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{
		w:      w,
		status: make(map[string]transfer.Status),
		decile: make(map[string]int),
	}
}

func (p *progressPrinter) Print(s transfer.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	decile := int(s.ProgressPercent) / 10
	prevStatus, seen := p.status[s.ID]

	if seen && prevStatus == s.Status && p.decile[s.ID] == decile {
		return
	}

	p.status[s.ID] = s.Status
	p.decile[s.ID] = decile

	fmt.Fprintf(p.w, "%-11s %s %s\n", s.Status, s.FileName, sizeLabel(s))
}

func sizeLabel(s transfer.Snapshot) string {
	if s.TotalSize <= 0 {
		return humanize.Bytes(uint64(s.DownloadedSize))
	}

	return fmt.Sprintf("%3.0f%% (%s / %s)", s.ProgressPercent,
		humanize.Bytes(uint64(s.DownloadedSize)), humanize.Bytes(uint64(s.TotalSize)))
}
