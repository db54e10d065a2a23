package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeRunner pretends to be gs and tesseract. gs writes one empty page
// file per entry in pages; tesseract answers with the text for that page.
type fakeRunner struct {
	mu       sync.Mutex
	pages    []string
	gsErr    error
	ocrErr   error
	commands []Command
}

func (f *fakeRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	f.mu.Lock()
	f.commands = append(f.commands, c)
	f.mu.Unlock()

	switch c.Name {
	case "gs":
		if f.gsErr != nil {
			return nil, f.gsErr
		}
		var pattern string
		for _, a := range c.Args {
			if strings.HasPrefix(a, "-sOutputFile=") {
				pattern = strings.TrimPrefix(a, "-sOutputFile=")
			}
		}
		for i := range f.pages {
			if err := os.WriteFile(fmt.Sprintf(pattern, i+1), nil, 0o600); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case "tesseract":
		if f.ocrErr != nil {
			return nil, f.ocrErr
		}
		var n int
		if _, err := fmt.Sscanf(filepath.Base(c.Args[0]), "page-%03d.tiff", &n); err != nil {
			return nil, err
		}
		return []byte(f.pages[n-1] + "\n\n"), nil
	}
	return nil, fmt.Errorf("unexpected command %s", c.Name)
}

func (f *fakeRunner) named(name string) []Command {
	var out []Command
	for _, c := range f.commands {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func testEngine(t *testing.T, cfg Config, runner Runner) *Engine {
	t.Helper()
	e, err := NewWithRunner(cfg, runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWithRunner() error = %v", err)
	}
	return e
}

func TestExtractTextJoinsPagesInOrder(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			runner := &fakeRunner{pages: []string{"first", "second", "third"}}
			e := testEngine(t, Config{PageWorkers: workers}, runner)

			text, err := e.ExtractText(context.Background(), []byte("%PDF-1.4 not really"))
			if err != nil {
				t.Fatalf("ExtractText() error = %v", err)
			}
			if text != "first\nsecond\nthird" {
				t.Errorf("text = %q", text)
			}
			if got := len(runner.named("tesseract")); got != 3 {
				t.Errorf("tesseract ran %d times, want 3", got)
			}
		})
	}
}

func TestSortPagesNumerically(t *testing.T) {
	pages := []string{
		"/tmp/x/page-1000.tiff",
		"/tmp/x/page-101.tiff",
		"/tmp/x/page-002.tiff",
		"/tmp/x/page-999.tiff",
		"/tmp/x/page-1001.tiff",
		"/tmp/x/page-001.tiff",
	}
	sortPages(pages)

	want := []string{
		"/tmp/x/page-001.tiff",
		"/tmp/x/page-002.tiff",
		"/tmp/x/page-101.tiff",
		"/tmp/x/page-999.tiff",
		"/tmp/x/page-1000.tiff",
		"/tmp/x/page-1001.tiff",
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Fatalf("sortPages() = %v, want %v", pages, want)
		}
	}
}

func TestExtractTextCommandLines(t *testing.T) {
	runner := &fakeRunner{pages: []string{"only"}}
	e := testEngine(t, Config{Languages: "eng", DPI: 150, TessdataPrefix: "/usr/share/tessdata"}, runner)

	if _, err := e.ExtractText(context.Background(), []byte("pdf")); err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}

	gs := runner.named("gs")[0]
	joined := strings.Join(gs.Args, " ")
	for _, want := range []string{"-q", "-dNOPAUSE", "-dBATCH", "-sDEVICE=tiffgray", "-r150"} {
		if !strings.Contains(joined, want) {
			t.Errorf("gs args %q missing %q", joined, want)
		}
	}
	if !strings.HasSuffix(gs.Args[len(gs.Args)-1], "input.pdf") {
		t.Errorf("gs input = %q", gs.Args[len(gs.Args)-1])
	}

	tess := runner.named("tesseract")[0]
	want := []string{"stdout", "-l", "eng", "--dpi", "150"}
	if strings.Join(tess.Args[1:], " ") != strings.Join(want, " ") {
		t.Errorf("tesseract args = %v", tess.Args)
	}
	if len(tess.Env) != 1 || tess.Env[0] != "TESSDATA_PREFIX=/usr/share/tessdata" {
		t.Errorf("tesseract env = %v", tess.Env)
	}
}

func TestExtractTextRemovesScratchDir(t *testing.T) {
	runner := &fakeRunner{pages: []string{"a"}}
	e := testEngine(t, Config{}, runner)

	if _, err := e.ExtractText(context.Background(), []byte("pdf")); err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	dir := runner.named("gs")[0].Dir
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("scratch dir %s still exists", dir)
	}
}

func TestExtractTextFailures(t *testing.T) {
	toolErr := &ToolError{Tool: "gs", ExitCode: 1, Stderr: "Error: /syntaxerror"}

	tests := []struct {
		name   string
		runner *fakeRunner
		check  func(error) bool
	}{
		{"rasterizer fails", &fakeRunner{gsErr: toolErr}, func(err error) bool {
			var te *ToolError
			return errors.As(err, &te) && te.Tool == "gs"
		}},
		{"no pages", &fakeRunner{}, func(err error) bool { return errors.Is(err, ErrNoPages) }},
		{"recognizer fails", &fakeRunner{pages: []string{"a", "b"}, ocrErr: &ToolError{Tool: "tesseract", ExitCode: 1}}, func(err error) bool {
			var te *ToolError
			return errors.As(err, &te) && te.Tool == "tesseract"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEngine(t, Config{}, tt.runner)
			_, err := e.ExtractText(context.Background(), []byte("pdf"))
			if err == nil || !tt.check(err) {
				t.Fatalf("ExtractText() error = %v", err)
			}
		})
	}
}

func TestUnknownRecognizer(t *testing.T) {
	_, err := NewWithRunner(Config{Recognizer: "paddle"}, &fakeRunner{}, slog.Default())
	if err == nil {
		t.Fatal("expected error for unknown recognizer")
	}
}

func TestToolErrorMessage(t *testing.T) {
	err := &ToolError{Tool: "tesseract", ExitCode: 1, Stderr: "  Failed loading language 'xyz'\n"}
	if err.Error() != "tesseract exited with code 1: Failed loading language 'xyz'" {
		t.Errorf("Error() = %q", err.Error())
	}
	bare := &ToolError{Tool: "gs", ExitCode: 2}
	if bare.Error() != "gs exited with code 2" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
