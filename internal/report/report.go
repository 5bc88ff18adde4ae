// Package report renders split and ledger summaries as terminal or Markdown tables.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"cxr/internal/dataset"
	"cxr/internal/store"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // Fixed-width terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps a --format flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "ascii", "text":
		return ASCII, nil
	case "md", "markdown":
		return Markdown, nil
	}
	return ASCII, fmt.Errorf("unknown table format %q", s)
}

func newWriter(m Mode) table.Writer {
	w := table.NewWriter()
	style := table.StyleDefault
	if m == ASCII {
		style = table.StyleLight
	}
	// class names are case-sensitive; keep headers as given
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	w.SetStyle(style)
	return w
}

func render(w table.Writer, m Mode) string {
	if m == Markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

// className returns the configured name for label, falling back to the label_str rule.
func className(classes []string, label int) string {
	if label >= 0 && label < len(classes) {
		return classes[label]
	}
	return dataset.LabelString(label)
}

// Splits renders one row per split with per-class counts and the split's
// share of all rows.
func Splits(s dataset.Splits, classes []string, m Mode) string {
	var all []dataset.Sample
	for _, part := range s.Named() {
		all = append(all, part.Samples...)
	}
	labels := dataset.Labels(all)
	total := len(all)

	w := newWriter(m)
	header := table.Row{"Split"}
	for _, l := range labels {
		header = append(header, className(classes, l))
	}
	header = append(header, "Rows", "Share")
	w.AppendHeader(header)

	totals := make(map[int]int)
	for _, part := range s.Named() {
		counts := dataset.CountByLabel(part.Samples)
		row := table.Row{part.Name}
		for _, l := range labels {
			row = append(row, humanize.Comma(int64(counts[l])))
			totals[l] += counts[l]
		}
		row = append(row, humanize.Comma(int64(len(part.Samples))), percent(len(part.Samples), total))
		w.AppendRow(row)
	}

	footer := table.Row{"Total"}
	for _, l := range labels {
		footer = append(footer, humanize.Comma(int64(totals[l])))
	}
	footer = append(footer, humanize.Comma(int64(total)), percent(total, total))
	w.AppendFooter(footer)

	configs := make([]table.ColumnConfig, 0, len(labels)+2)
	for i := 2; i <= len(labels)+3; i++ {
		configs = append(configs, table.ColumnConfig{Number: i, Align: text.AlignRight})
	}
	w.SetColumnConfigs(configs)
	return render(w, m)
}

// Runs renders the ledger listing, newest first as returned by the store.
func Runs(runs []*store.Run, m Mode) string {
	w := newWriter(m)
	w.AppendHeader(table.Row{"Run", "Started", "Seed", "Mode", "Samples", "Train", "Val", "Test"})
	for _, r := range runs {
		w.AppendRow(table.Row{
			shortID(r.ID),
			r.StartedAt,
			r.Seed,
			runMode(r),
			humanize.Comma(int64(r.Samples)),
			humanize.Comma(int64(r.Total("train"))),
			humanize.Comma(int64(r.Total("val"))),
			humanize.Comma(int64(r.Total("test"))),
		})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	return render(w, m)
}

// RunCounts renders one run's split × class counts.
func RunCounts(r *store.Run, classes []string, m Mode) string {
	splits := []string{"train", "val", "test"}
	labelSet := make(map[int]bool)
	counts := make(map[string]map[int]int)
	for _, c := range r.Counts {
		labelSet[c.Label] = true
		if counts[c.Split] == nil {
			counts[c.Split] = make(map[int]int)
		}
		counts[c.Split][c.Label] += c.Count
	}
	labels := make([]int, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	w := newWriter(m)
	header := table.Row{"Split"}
	for _, l := range labels {
		header = append(header, className(classes, l))
	}
	w.AppendHeader(append(header, "Rows"))
	for _, s := range splits {
		row := table.Row{s}
		for _, l := range labels {
			row = append(row, counts[s][l])
		}
		w.AppendRow(append(row, r.Total(s)))
	}
	return render(w, m)
}

func runMode(r *store.Run) string {
	switch {
	case r.DryRun:
		return "dry-run"
	case r.Append:
		return "append"
	default:
		return "overwrite"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func percent(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}
