package ocr

import (
	"context"
	"strconv"
)

// Recognizer extracts the text of one page image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

var recognizers = map[string]func(cfg Config, runner Runner) Recognizer{
	"cli": func(cfg Config, runner Runner) Recognizer {
		return &cliRecognizer{cfg: cfg, runner: runner}
	},
}

// cliRecognizer shells out to the tesseract binary.
type cliRecognizer struct {
	cfg    Config
	runner Runner
}

func (r *cliRecognizer) Recognize(ctx context.Context, imagePath string) (string, error) {
	cmd := Command{
		Name: r.cfg.Tesseract,
		Args: []string{imagePath, "stdout", "-l", r.cfg.Languages, "--dpi", strconv.Itoa(r.cfg.DPI)},
	}
	if r.cfg.TessdataPrefix != "" {
		cmd.Env = []string{"TESSDATA_PREFIX=" + r.cfg.TessdataPrefix}
	}

	out, err := r.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
