package report

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"agentdash/client"
)

const (
	severityWidth = 9
	statusWidth   = 11
	minTitleWidth = 16
)

// Table lays findings out as fixed-width rows for a terminal of the given
// width: severity, verification status, location, title. Columns are padded
// and truncated by display width so wide runes line up.
func Table(findings []client.Finding, width int) string {
	if len(findings) == 0 {
		return ""
	}

	locWidth := 0
	for _, f := range findings {
		locWidth = max(locWidth, runewidth.StringWidth(f.Location()))
	}
	// Cap the location column so titles keep at least minTitleWidth
	locWidth = min(locWidth, max(width-severityWidth-statusWidth-minTitleWidth-6, 8))
	titleWidth := max(width-severityWidth-statusWidth-locWidth-6, minTitleWidth)

	var b strings.Builder
	writeRow(&b, []string{"SEVERITY", "STATUS", "LOCATION", "TITLE"}, []int{severityWidth, statusWidth, locWidth, titleWidth})
	for _, f := range findings {
		status := f.VerificationStatus
		if status == "" {
			status = "-"
		}
		writeRow(&b, []string{
			strings.ToUpper(f.Severity),
			status,
			f.Location(),
			f.Heading(),
		}, []int{severityWidth, statusWidth, locWidth, titleWidth})
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		cell = strings.ReplaceAll(cell, "\n", " ")
		last := i == len(cells)-1
		b.WriteString(fit(cell, widths[i], !last))
	}
	b.WriteString("\n")
}

// fit truncates s to width display cells, padding it when pad is set.
func fit(s string, width int, pad bool) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	if pad {
		s = runewidth.FillRight(s, width)
	}
	return s
}
