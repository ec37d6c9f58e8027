package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Veraticus/ruleflow/internal/engine"
	"github.com/Veraticus/ruleflow/internal/model"
	"github.com/schollz/progressbar/v3"
)

// Progress advances a terminal progress bar as records are classified. It is
// safe for concurrent use by worker goroutines.
type Progress struct {
	bar *progressbar.ProgressBar
}

var _ engine.Observer = (*Progress)(nil)

// NewProgress creates a bar for total records writing to w.
func NewProgress(w io.Writer, total int) *Progress {
	if w == nil {
		w = os.Stderr
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Classifying records...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return &Progress{bar: bar}
}

// RecordClassified advances the bar by one.
func (p *Progress) RecordClassified(_ model.ClassificationResult) {
	if err := p.bar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the bar.
func (p *Progress) Finish() {
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

// Current returns how many records were reported.
func (p *Progress) Current() int64 {
	return p.bar.State().CurrentNum
}
