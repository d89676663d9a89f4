package report

import (
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/fastcrawl/internal/model"
)

// Writer writes run summaries.
type Writer interface {
	// Write outputs the summary and returns the number of bytes written.
	Write(summary *model.RunSummary) (int, error)
}

// MultiWriter writes to multiple Writers in order and stops on the first error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the summary to all configured Writers and returns the
// total bytes written.
func (m *MultiWriter) Write(summary *model.RunSummary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(summary)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// stageTitle turns "product_detail" into "Product Detail". A Caser is not
// safe for concurrent use, so one is built per call.
func stageTitle(name string) string {
	return cases.Title(language.English).String(strings.NewReplacer("_", " ", "-", " ").Replace(name))
}

// stageStatus is a short status word for one stage.
func stageStatus(st model.StageStats) string {
	switch {
	case st.Failed():
		return "failed"
	case st.Stopped:
		return "stopped"
	default:
		return "complete"
	}
}

// stoppedStages counts stages that ended because of an explicit stop.
func stoppedStages(summary *model.RunSummary) int {
	n := 0
	for _, st := range summary.Stages {
		if st.Stopped {
			n++
		}
	}
	return n
}

// truncateString truncates a string to maxLen bytes with an ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

const timeLayout = "2006-01-02 15:04:05 MST"
