package quality

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/errors/v5"
)

// Finding is the outcome of one expectation over one table.
type Finding struct {
	Expectation string
	Column      string
	Checked     int64
	Failed      int64
}

// Report collects the findings of one suite run against one table.
type Report struct {
	Table    string
	RunAt    time.Time
	Findings []Finding
}

// Evaluate runs every expectation over every row.
func Evaluate(table string, rows []Row, expectations []Expectation, runAt time.Time) Report {
	report := Report{Table: table, RunAt: runAt.UTC()}

	for _, expectation := range expectations {
		finding := Finding{Expectation: expectation.Name, Column: expectation.Column}
		for _, row := range rows {
			finding.Checked++
			if !expectation.check(row[expectation.Column]) {
				finding.Failed++
			}
		}
		report.Findings = append(report.Findings, finding)
	}

	return report
}

// Passed reports whether every expectation held for every row.
func (r Report) Passed() bool {
	for _, f := range r.Findings {
		if f.Failed > 0 {
			return false
		}
	}
	return true
}

// FailureCount sums failed rows across findings.
func (r Report) FailureCount() int64 {
	var total int64
	for _, f := range r.Findings {
		total += f.Failed
	}
	return total
}

// WriteMarkdown renders the reports as one markdown document and writes it
// atomically, creating parent directories as needed.
func WriteMarkdown(path string, reports []Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create report directory")
	}

	var b strings.Builder
	b.WriteString("# Data Quality Report\n\n")
	if len(reports) > 0 {
		b.WriteString(fmt.Sprintf("Generated at %s\n\n", reports[0].RunAt.Format(time.RFC3339)))
	}

	for _, report := range reports {
		status := "PASS"
		if !report.Passed() {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("## %s: %s\n\n", report.Table, status))
		b.WriteString("| Expectation | Column | Checked | Failed |\n")
		b.WriteString("|---|---|---:|---:|\n")
		for _, f := range report.Findings {
			b.WriteString(fmt.Sprintf("| %s | %s | %d | %d |\n", f.Expectation, f.Column, f.Checked, f.Failed))
		}
		b.WriteString("\n")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create report temp file")
	}
	if _, err = tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write report")
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close report")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "publish report")
	}

	return nil
}
