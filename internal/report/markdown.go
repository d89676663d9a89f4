package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/fastcrawl/internal/model"
)

// MarkdownWriter outputs summaries in Markdown format.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *model.RunSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeStages(md, summary)
	w.writeFailures(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary *model.RunSummary) {
	md.H1("fastcrawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", summary.StartedAt.Format(timeLayout)},
			{"Finished", summary.FinishedAt.Format(timeLayout)},
			{"Stages", strconv.Itoa(len(summary.Stages))},
			{"Requests", strconv.Itoa(summary.TotalRequests())},
			{"Records", strconv.Itoa(summary.TotalRecords())},
			{"Status", w.statusText(summary)},
		},
	})
	md.PlainText("")
	w.writeAlert(md, summary)
}

func (w *MarkdownWriter) statusText(summary *model.RunSummary) string {
	if n := len(summary.FailedStages()); n > 0 {
		return "❌ " + strconv.Itoa(n) + " stage(s) failed"
	}
	if stoppedStages(summary) > 0 {
		return "⚠️ Stopped"
	}
	return "✅ Complete"
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary *model.RunSummary) {
	failed := len(summary.FailedStages())
	stopped := stoppedStages(summary)
	switch {
	case failed > 0:
		md.Cautionf("%d of %d stage(s) ended with an error.", failed, len(summary.Stages))
	case stopped > 0:
		md.Warningf("%d stage(s) were stopped before their frontier was drained.", stopped)
	case len(summary.Stages) == 0:
		md.Note("No stage ran.")
	case summary.TotalRecords() == 0:
		md.Importantf("%d request(s) were made but no record was extracted.", summary.TotalRequests())
	default:
		md.Tip("All stages finished.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeStages(md *markdown.Markdown, summary *model.RunSummary) {
	md.H2("Stages")
	md.PlainText("")

	if len(summary.Stages) == 0 {
		md.PlainText("No stage statistics were recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(summary.Stages))
	for _, st := range summary.Stages {
		rows = append(rows, []string{
			truncateString(st.Chain, 40),
			stageTitle(st.Stage),
			strconv.Itoa(st.Batches),
			strconv.Itoa(st.Requests),
			strconv.Itoa(st.Records),
			strconv.Itoa(st.FetchFailures + st.ExtractFailures),
			strconv.Itoa(st.HandedOff),
			st.Duration().Round(time.Millisecond).String(),
			stageStatus(st),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Chain", "Stage", "Batches", "Requests", "Records", "Failures", "Handed Off", "Duration", "Status"},
		Rows:   rows,
	})

	if summary.TotalRecords() > 0 {
		w.writePieChart(md, summary)
	}
	md.PlainText("")
}

// writePieChart writes a mermaid pie chart of records per stage.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary *model.RunSummary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Records per Stage"),
		piechart.WithShowData(true),
	)
	for _, st := range summary.Stages {
		if st.Records > 0 {
			chart.LabelAndIntValue(stageTitle(st.Stage), uint64(st.Records))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, summary *model.RunSummary) {
	failed := summary.FailedStages()
	if len(failed) == 0 {
		return
	}
	md.H2("Failures")
	md.PlainText("")
	for _, st := range failed {
		md.Details(st.Chain+" / "+stageTitle(st.Stage), st.Error)
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [fastcrawl](https://github.com/nao1215/fastcrawl)*")
}
