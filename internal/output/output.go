package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// UI writes human-facing command output. Status lines go to Out, warnings
// and dry-run notices to ErrOut so piped JSON stays clean.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI on stdout/stderr.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	passMark      = color.New(color.FgHiGreen).Sprint("\u2713")
	warningPrefix = color.New(color.FgHiYellow).Sprint("\u26a0")
	failMark      = color.New(color.FgHiRed).Sprint("\u2717")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  \u2192")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

// ReasonColor returns a verdict reason colored by severity.
func ReasonColor(reason string) string {
	switch reason {
	case "Ok":
		return green(reason)
	case "KeyNotLeading":
		return yellow(reason)
	case "NoKeyFound":
		return red(reason)
	default:
		return reason
	}
}

// OutcomeColor colors a link or transition outcome.
func OutcomeColor(outcome string) string {
	switch {
	case outcome == "created" || outcome == "applied":
		return green(outcome)
	case outcome == "existing" || outcome == "none" || outcome == "skipped-not-needed":
		return cyan(outcome)
	case strings.HasPrefix(outcome, "skipped"):
		return yellow(outcome)
	case outcome == "failed":
		return red(outcome)
	default:
		return outcome
	}
}

// ComplianceColor returns the percentage colored by how many pull requests
// referenced an issue.
func ComplianceColor(rate float64) string {
	s := fmt.Sprintf("%.2f%%", rate)
	switch {
	case rate >= 90:
		return green(s)
	case rate >= 70:
		return yellow(s)
	default:
		return red(s)
	}
}

func line(w io.Writer, prefix, format string, a []any) {
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, a...))
}

func (u *UI) Info(format string, a ...any)    { line(u.Out, infoPrefix, format, a) }
func (u *UI) Success(format string, a ...any) { line(u.Out, passMark, format, a) }
func (u *UI) Warning(format string, a ...any) { line(u.ErrOut, warningPrefix, format, a) }
func (u *UI) Error(format string, a ...any)   { line(u.ErrOut, failMark, format, a) }

// VerboseLog prints only with --verbose.
func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		line(u.Out, verbosePrefix, format, a)
	}
}

// DryRunMsg announces a write that --dry-run suppressed.
func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// JSON writes v as indented JSON to Out, for --json flags.
func (u *UI) JSON(v any) error {
	enc := json.NewEncoder(u.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Check prints one pass/fail line of a checklist.
func (u *UI) Check(passed bool, name, detail string) {
	mark := failMark
	if passed {
		mark = passMark
	}
	fmt.Fprintf(u.Out, "  %s %-16s %s\n", mark, name, detail)
}

// Score prints the checklist total, colored like a compliance rate.
func (u *UI) Score(passed, total int) {
	label := fmt.Sprintf("%d/%d", passed, total)
	switch {
	case total == 0 || passed == total:
		label = green(label)
	case passed*2 >= total:
		label = yellow(label)
	default:
		label = red(label)
	}
	fmt.Fprintf(u.Out, "  Score: %s\n", label)
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
