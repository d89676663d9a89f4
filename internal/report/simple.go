package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/fastcrawl/internal/model"
)

// SimpleWriter outputs human-readable text summaries for terminal display.
type SimpleWriter struct {
	baseWriter

	// showEmpty prints the stage section even when no stage ran.
	showEmpty bool

	// verbose adds per-stage failure and hand-off counters.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(summary *model.RunSummary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeStages(&sb, summary)
	w.writeFailures(&sb, summary)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, summary *model.RunSummary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                          FASTCRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Started:   %s\n", summary.StartedAt.Format(timeLayout))
	fmt.Fprintf(sb, "Finished:  %s\n", summary.FinishedAt.Format(timeLayout))
	fmt.Fprintf(sb, "Stages:    %d\n", len(summary.Stages))
	fmt.Fprintf(sb, "Requests:  %d\n", summary.TotalRequests())
	fmt.Fprintf(sb, "Records:   %d\n", summary.TotalRecords())

	switch failed := len(summary.FailedStages()); {
	case failed > 0:
		fmt.Fprintf(sb, "Status:    ERROR - %d stage(s) failed\n", failed)
	case stoppedStages(summary) > 0:
		sb.WriteString("Status:    STOPPED (partial results)\n")
	default:
		sb.WriteString("Status:    Complete\n")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeStages(sb *strings.Builder, summary *model.RunSummary) {
	if len(summary.Stages) == 0 && !w.showEmpty {
		return
	}

	writeSection(sb, "STAGES")
	if len(summary.Stages) == 0 {
		sb.WriteString("  No stage ran\n\n")
		return
	}

	for _, st := range summary.Stages {
		fmt.Fprintf(sb, "[%s] %s / %s\n", w.indicator(st), st.Chain, stageTitle(st.Stage))
		fmt.Fprintf(sb, "    batches: %d  requests: %d  records: %d  duration: %s\n",
			st.Batches, st.Requests, st.Records, st.Duration().Round(time.Millisecond))
		if w.verbose {
			fmt.Fprintf(sb, "    fetch failures: %d  extract failures: %d  discovered: %d  handed off: %d\n",
				st.FetchFailures, st.ExtractFailures, st.Discovered, st.HandedOff)
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFailures(sb *strings.Builder, summary *model.RunSummary) {
	failed := summary.FailedStages()
	if len(failed) == 0 {
		return
	}

	writeSection(sb, "FAILURES")
	for _, st := range failed {
		fmt.Fprintf(sb, "  %s / %s: %s\n", st.Chain, st.Stage, st.Error)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) indicator(st model.StageStats) string {
	switch stageStatus(st) {
	case "failed":
		return "!!"
	case "stopped":
		return "--"
	default:
		return "ok"
	}
}

func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}
