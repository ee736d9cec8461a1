package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"counsel/internal/analysis"
	"counsel/internal/api"
	"counsel/internal/session"
)

// tone picks the colour of a rendered value.
type tone int

const (
	toneNeutral tone = iota
	toneGood
	toneCaution
	toneAlert
)

const (
	labelWidth = 16
	indent     = "  "
)

func (t tone) ansi() string {
	switch t {
	case toneGood:
		return "\x1b[32m"
	case toneCaution:
		return "\x1b[33m"
	case toneAlert:
		return "\x1b[31m"
	default:
		return ""
	}
}

// field renders one "label  value" line. Only the value is coloured, and
// flagged values keep a plain-text marker when colour is off.
func field(label string, t tone, value string, colorize bool) string {
	if value == "" {
		value = "-"
	}
	switch {
	case colorize && t.ansi() != "":
		value = t.ansi() + value + "\x1b[0m"
	case !colorize && t == toneAlert:
		value += " (!)"
	}
	return fmt.Sprintf("%s%-*s %s", indent, labelWidth, label, value)
}

func heading(title string, colorize bool) []string {
	title = strings.TrimSpace(title)
	rule := strings.Repeat("=", len([]rune(title)))
	if colorize {
		title = "\x1b[1m" + title + "\x1b[0m"
	}
	return []string{title, rule}
}

func riskTone(level string) tone {
	switch analysis.CanonicalRiskLevel(level) {
	case analysis.RiskLow:
		return toneGood
	case analysis.RiskMedium:
		return toneCaution
	case analysis.RiskHigh, analysis.RiskCritical:
		return toneAlert
	default:
		return toneNeutral
	}
}

func stateTone(state string) tone {
	switch session.State(state) {
	case session.StateChatReady:
		return toneGood
	case session.StateFailed:
		return toneAlert
	default:
		return toneNeutral
	}
}

// useColor reports whether w is an interactive terminal.
func useColor(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderSession formats one session for a terminal.
func renderSession(s api.Session, colorize bool) string {
	var lines []string
	title := s.Filename
	if title == "" {
		title = s.ID
	}
	lines = append(lines, heading(title, colorize)...)
	stateMsg := s.State
	if s.State != string(session.StateChatReady) && s.State != string(session.StateFailed) {
		stateMsg = fmt.Sprintf("%s (%d%%)", s.State, s.Progress)
	}
	lines = append(lines, field("Session", toneNeutral, s.ID, colorize))
	lines = append(lines, field("State", stateTone(s.State), stateMsg, colorize))

	if s.State == string(session.StateFailed) {
		lines = append(lines, field("Reason", toneAlert, s.Reason, colorize))
		if s.Message != "" {
			lines = append(lines, field("Detail", toneNeutral, s.Message, colorize))
		}
		lines = append(lines, field("Retryable", toneNeutral, yesNo(s.Retryable), colorize))
		return strings.Join(lines, "\n") + "\n"
	}

	record, ok := decodeRecord(s.Record)
	if !ok {
		return strings.Join(lines, "\n") + "\n"
	}
	if s.Cached {
		lines = append(lines, field("Cache", toneNeutral, "served from analysis cache", colorize))
	}
	lines = append(lines,
		field("Document type", toneNeutral, record.DocumentType, colorize),
		field("Risk level", riskTone(record.RiskLevel), record.RiskLevel, colorize),
	)
	if record.Verdict != "" {
		lines = append(lines, field("Verdict", toneNeutral, record.Verdict, colorize))
	}
	lines = append(lines, field("Confidence", toneNeutral, fmt.Sprintf("%.0f%%", record.Confidence*100), colorize))
	if record.Degraded {
		lines = append(lines, field("Extraction", toneCaution, "partially recovered from malformed model output", colorize))
	}

	if len(record.Risks) > 0 {
		lines = append(lines, "")
		lines = append(lines, heading("Risks", colorize)...)
		rows := make([][]string, 0, len(record.Risks))
		for i, risk := range record.Risks {
			clause := risk.ClauseReference
			if clause != "" && !risk.Grounded {
				clause += " (unverified)"
			}
			rows = append(rows, []string{
				strconv.Itoa(i + 1), risk.Severity, risk.Category, clause, risk.Explanation, risk.Suggestion,
			})
		}
		lines = append(lines, renderTable(
			[]string{"#", "Severity", "Category", "Clause", "Explanation", "Suggestion"},
			rows,
			tableOptions{aligns: []columnAlignment{alignRight}, maxWidths: []int{0, 0, 18, 18, 40, 40}},
		))
	}

	if len(record.Recommendations) > 0 {
		lines = append(lines, "")
		lines = append(lines, heading("Recommendations", colorize)...)
		for _, rec := range record.Recommendations {
			lines = append(lines, indent+"- "+rec)
		}
	}

	if len(record.Glossary) > 0 {
		lines = append(lines, "")
		lines = append(lines, heading("Glossary", colorize)...)
		rows := make([][]string, 0, len(record.Glossary))
		for _, term := range record.Glossary {
			rows = append(rows, []string{term.Term, term.Definition})
		}
		lines = append(lines, renderTable([]string{"Term", "Meaning"}, rows, tableOptions{maxWidths: []int{24, 60}}))
	}

	if record.CoachTip != "" {
		lines = append(lines, "", field("Tip", toneNeutral, record.CoachTip, colorize))
	}
	if s.Brief != "" {
		lines = append(lines, "")
		lines = append(lines, heading("Brief", colorize)...)
		lines = append(lines, s.Brief)
	}
	return strings.Join(lines, "\n") + "\n"
}

func decodeRecord(raw json.RawMessage) (analysis.Record, bool) {
	if len(raw) == 0 {
		return analysis.Record{}, false
	}
	var record analysis.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return analysis.Record{}, false
	}
	return record, true
}

func renderSessionList(sessions []api.Session) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		status := s.State
		if s.Reason != "" {
			status += " (" + s.Reason + ")"
		}
		rows = append(rows, []string{s.ID, s.Filename, status, strconv.Itoa(s.Progress) + "%", s.UpdatedAt})
	}
	return renderTable(
		[]string{"Session", "File", "State", "Progress", "Updated"},
		rows,
		tableOptions{aligns: []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}},
	)
}
