// Package report renders task statuses, job records and posteriors for the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// OutputFormat specifies how results are written.
type OutputFormat string

const (
	// OutputFormatTable prints an aligned table sorted by regulator activity
	OutputFormatTable OutputFormat = "table"

	// OutputFormatJSON prints the document as pretty JSON
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatTable, OutputFormatJSON:
		return OutputFormat(s), nil
	case "":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected table or json)", s)
	}
}

// Row is one regulator of a posterior table.
type Row struct {
	Node string
	X    float64
	T    float64 // NaN when the posterior has no T estimate for the node
}

// Rows flattens a posterior into rows sorted by X descending, ties by node id.
func Rows(p *jobstore.Posterior) []Row {
	rows := make([]Row, 0, len(p.X))
	for node, x := range p.X {
		t, ok := p.T[node]
		if !ok {
			t = math.NaN()
		}
		rows = append(rows, Row{Node: node, X: x, T: t})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].X != rows[j].X {
			return rows[i].X > rows[j].X
		}
		return rows[i].Node < rows[j].Node
	})
	return rows
}

// FormatPosterior writes the posterior as a table. top limits the number of
// rows; 0 prints all. Returns the number of rows written.
func FormatPosterior(w io.Writer, p *jobstore.Posterior, top int) int {
	rows := Rows(p)
	if len(rows) == 0 {
		fmt.Fprintln(w, "Posterior is empty")
		return 0
	}

	total := len(rows)
	if top > 0 && top < total {
		rows = rows[:top]
	}

	fmt.Fprintf(w, "%-24s %-8s %s\n", "REGULATOR", "X", "T")
	fmt.Fprintf(w, "%-24s %-8s %s\n", "------------------------", "--------", "--------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-24s %-8s %s\n", formatNode(r.Node), formatProb(r.X), formatProb(r.T))
	}

	if len(rows) < total {
		fmt.Fprintf(w, "\n%d of %d regulators shown\n", len(rows), total)
	} else {
		noun := "regulator"
		if total != 1 {
			noun = "regulators"
		}
		fmt.Fprintf(w, "\n%d %s\n", total, noun)
	}
	return len(rows)
}

// FormatStatus writes a one-line summary of a status poll.
func FormatStatus(w io.Writer, s *jobstore.Status) {
	if s.Result == nil || s.Result.Meta == nil {
		fmt.Fprintf(w, "%-10s %s\n", s.Status, s.TaskID)
		return
	}
	m := s.Result.Meta
	fmt.Fprintf(w, "%-10s %s  samples=%-6d gr_stat=%-8s elapsed=%s\n",
		s.Status, s.TaskID, m.NSampled, formatStat(m.GRStat), m.ElapsedTime)
}

// FormatJob writes the human-readable summary of a job record.
func FormatJob(w io.Writer, j *jobstore.Job) {
	fmt.Fprintf(w, "Job:        %s\n", j.ID)
	fmt.Fprintf(w, "Task:       %s\n", orDash(j.TaskID))
	fmt.Fprintf(w, "Phase:      %s\n", j.Phase)
	fmt.Fprintf(w, "Submitted:  %s (%s)\n", j.SubmitTime.Format(time.RFC3339), formatAge(j.SubmitTime))
	fmt.Fprintf(w, "Network:    %s\n", j.NetworkHash)
	fmt.Fprintf(w, "Evidence:   %s\n", j.EvidenceHash)
	fmt.Fprintf(w, "Config:     uniform_t=%t zy=%g zn=%g s_leniency=%g\n",
		j.Config.UniformT, j.Config.Zy, j.Config.Zn, j.Config.SLeniency)
	if m := j.Meta; m != nil {
		fmt.Fprintf(w, "Worker:     %s\n", orDash(m.WorkerID))
		fmt.Fprintf(w, "Samples:    %d\n", m.NSampled)
		fmt.Fprintf(w, "GR stat:    %s\n", formatStat(m.GRStat))
		fmt.Fprintf(w, "Elapsed:    %s\n", m.ElapsedTime)
	}
	if j.PosteriorHash != "" {
		fmt.Fprintf(w, "Posterior:  %s\n", j.PosteriorHash)
	}
	if j.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", j.Error)
	}
}

// FormatJSON writes v as pretty-printed JSON followed by a newline.
func FormatJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}

	fmt.Fprintln(w)
	return nil
}

// formatNode truncates long regulator ids for table display.
func formatNode(node string) string {
	if len(node) > 24 {
		return node[:21] + "..."
	}
	return node
}

func formatProb(p float64) string {
	if math.IsNaN(p) {
		return "-"
	}
	return fmt.Sprintf("%.4f", p)
}

func formatStat(s jobstore.Statistic) string {
	f := float64(s)
	if math.IsInf(f, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.4f", f)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge shows how long ago t was, like "2m ago".
func formatAge(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
