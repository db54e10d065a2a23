package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfme/dms-pipeline/pkg/database"
	"github.com/pdfme/dms-pipeline/pkg/summarizer"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultErrorBackoff = 10 * time.Second
)

// DocumentStore is the part of the repository the poller needs.
type DocumentStore interface {
	NextPendingSummary(ctx context.Context) (*database.Document, error)
	SetSummary(ctx context.Context, id uuid.UUID, summary string) (bool, error)
}

// Outcome describes one poll cycle.
type Outcome int

const (
	// OutcomeIdle means no document was waiting for a summary.
	OutcomeIdle Outcome = iota
	// OutcomeStored means a summary was written.
	OutcomeStored
	// OutcomeEmpty means the summarizer returned nothing; the document
	// stays eligible.
	OutcomeEmpty
)

type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// Poller summarizes documents one at a time, oldest first.
type Poller struct {
	store      DocumentStore
	summarizer summarizer.Summarizer
	cfg        Config
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(store DocumentStore, s summarizer.Summarizer, cfg Config, logger *slog.Logger) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	return &Poller{
		store:      store,
		summarizer: s,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Run polls until ctx is cancelled. Idle cycles and empty summaries wait
// PollInterval; errors wait ErrorBackoff.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("summarization poller started",
		"pollInterval", p.cfg.PollInterval,
		"errorBackoff", p.cfg.ErrorBackoff)

	for {
		outcome, err := p.RunOnce(ctx)

		var wait time.Duration
		switch {
		case ctx.Err() != nil:
			p.logger.Info("summarization poller stopping")
			return nil
		case err != nil:
			p.logger.Error("error in summarization loop", "error", err)
			wait = p.cfg.ErrorBackoff
		case outcome == OutcomeIdle, outcome == OutcomeEmpty:
			wait = p.cfg.PollInterval
		}

		if wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				p.logger.Info("summarization poller stopping")
				return nil
			}
		}
	}
}

// RunOnce handles at most one document.
func (p *Poller) RunOnce(ctx context.Context) (Outcome, error) {
	doc, err := p.store.NextPendingSummary(ctx)
	if err != nil {
		return OutcomeIdle, err
	}
	if doc == nil {
		return OutcomeIdle, nil
	}
	if doc.OcrText == nil {
		return OutcomeIdle, fmt.Errorf("document %s has no ocr text", doc.ID)
	}

	logger := p.logger.With("documentId", doc.ID)
	logger.Info("generating summary", "chars", len(*doc.OcrText))

	summary, err := p.summarizer.Summarize(ctx, *doc.OcrText)
	if err != nil {
		return OutcomeEmpty, fmt.Errorf("summarize document %s: %w", doc.ID, err)
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		logger.Warn("no summary generated")
		return OutcomeEmpty, nil
	}

	stored, err := p.store.SetSummary(ctx, doc.ID, summary)
	if err != nil {
		return OutcomeEmpty, err
	}
	if !stored {
		logger.Warn("document vanished before summary was stored")
		return OutcomeStored, nil
	}

	logger.Info("summary stored", "chars", len(summary))
	return OutcomeStored, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
