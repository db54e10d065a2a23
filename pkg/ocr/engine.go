package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLanguages   = "eng+deu"
	DefaultDPI         = 300
	DefaultToolTimeout = 5 * time.Minute
	DefaultRecognizer  = "cli"
	DefaultGhostscript = "gs"
	DefaultTesseract   = "tesseract"
)

// ErrNoPages is returned when the rasterizer produced no page images.
var ErrNoPages = errors.New("rasterizer produced no pages")

// Config controls rasterization and recognition.
type Config struct {
	Languages      string
	DPI            int
	TessdataPrefix string
	ToolTimeout    time.Duration
	PageWorkers    int
	Recognizer     string
	// Ghostscript and Tesseract name the executables; bare names are
	// resolved through PATH.
	Ghostscript string
	Tesseract   string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Languages) == "" {
		c.Languages = DefaultLanguages
	}
	if c.DPI <= 0 {
		c.DPI = DefaultDPI
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.PageWorkers < 1 {
		c.PageWorkers = 1
	}
	if c.Recognizer == "" {
		c.Recognizer = DefaultRecognizer
	}
	if c.Ghostscript == "" {
		c.Ghostscript = DefaultGhostscript
	}
	if c.Tesseract == "" {
		c.Tesseract = DefaultTesseract
	}
	return c
}

// Engine turns a PDF into plain text by rasterizing it with Ghostscript and
// recognizing each page image.
type Engine struct {
	cfg        Config
	runner     Runner
	recognizer Recognizer
	logger     *slog.Logger
}

// New builds an engine that runs the external tools as subprocesses.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	return NewWithRunner(cfg, ExecRunner{Timeout: cfg.ToolTimeout}, logger)
}

// NewWithRunner builds an engine on top of an arbitrary Runner.
func NewWithRunner(cfg Config, runner Runner, logger *slog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()

	factory, ok := recognizers[cfg.Recognizer]
	if !ok {
		return nil, fmt.Errorf("unknown recognizer %q", cfg.Recognizer)
	}

	api.DisableConfigDir()

	return &Engine{
		cfg:        cfg,
		runner:     runner,
		recognizer: factory(cfg, runner),
		logger:     logger,
	}, nil
}

// ExtractText returns the recognized text of all pages joined by newlines.
// Scratch files live in a per-call directory that is always removed.
func (e *Engine) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	dir, err := os.MkdirTemp("", "ocr-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return "", fmt.Errorf("failed to write input pdf: %w", err)
	}

	expected := e.pageCount(pdf)

	pages, err := e.rasterize(ctx, dir, input)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", ErrNoPages
	}
	if expected > 0 && expected != len(pages) {
		e.logger.Warn("page count mismatch", "expected", expected, "rasterized", len(pages))
	}

	texts, err := e.recognizePages(ctx, pages)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(strings.Join(texts, "\n")), nil
}

// pageCount returns 0 when pdfcpu cannot read the document; Ghostscript is
// more forgiving and gets the final say.
func (e *Engine) pageCount(pdf []byte) int {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(bytes.NewReader(pdf), conf)
	if err != nil {
		e.logger.Warn("could not read page count", "error", err)
		return 0
	}
	return n
}

func (e *Engine) rasterize(ctx context.Context, dir, input string) ([]string, error) {
	cmd := Command{
		Name: e.cfg.Ghostscript,
		Args: []string{
			"-q",
			"-dNOPAUSE",
			"-dBATCH",
			"-sDEVICE=tiffgray",
			"-r" + strconv.Itoa(e.cfg.DPI),
			"-sOutputFile=" + filepath.Join(dir, "page-%03d.tiff"),
			input,
		},
		Dir: dir,
	}
	if _, err := e.runner.Run(ctx, cmd); err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}

	pages, err := filepath.Glob(filepath.Join(dir, "page-*.tiff"))
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	sortPages(pages)
	return pages, nil
}

// sortPages orders page files by page number. Ghostscript pads to three
// digits, so page-1000 must not sort before page-101.
func sortPages(pages []string) {
	sort.SliceStable(pages, func(i, j int) bool {
		a, b := pageNumber(pages[i]), pageNumber(pages[j])
		if a != b {
			return a < b
		}
		return pages[i] < pages[j]
	})
}

func pageNumber(path string) int {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "page-"), ".tiff")
	n, err := strconv.Atoi(name)
	if err != nil {
		return -1
	}
	return n
}

func (e *Engine) recognizePages(ctx context.Context, pages []string) ([]string, error) {
	texts := make([]string, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PageWorkers)

	for i, page := range pages {
		g.Go(func() error {
			text, err := e.recognizer.Recognize(gctx, page)
			if err != nil {
				return fmt.Errorf("recognize %s: %w", filepath.Base(page), err)
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}
