// Package requirements turns one row of a mission spreadsheet into the
// requirements text that seeds a behavior-tree generation prompt.
package requirements

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MissionColumn is the only mandatory column.
const MissionColumn = "Mission Description"

// ErrMissingField is matched by every *MissingFieldError.
var ErrMissingField = errors.New("btchat: missing required field")

// MissingFieldError reports a mandatory column that is absent or blank.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("btchat: missing required field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// Row maps a column header to its cell value.
type Row map[string]string

// Column groups emitted as "<Header>: <value>" lines.
var (
	TechnicalColumns = []string{
		"Robot Type", "Sensors", "Actuators", "Payload",
		"Navigation System", "Communication System", "Power Source", "Computing Platform",
	}
	OperationalColumns = []string{
		"Max Speed", "Endurance", "Operating Range", "Autonomy Level",
		"Operating Environment", "Operating Conditions",
	}
	AdaptationColumns = []string{
		"Adaptation Goals", "Recovery Strategy", "Fallback Behavior", "Success Criteria",
	}
)

// UncertaintyKeywords are matched as case-insensitive substrings of every header.
var UncertaintyKeywords = []string{
	"uncertainty", "weather", "terrain", "obstacle", "communication", "sensor",
	"battery", "gps", "visibility", "wind", "temperature", "noise",
	"interference", "failure", "dynamic", "unknown", "human",
}

var notAValue = map[string]bool{
	"": true, "nan": true, "n/a": true, "na": true, "none": true, "null": true,
}

// Requirements is the structured form of one row.
type Requirements struct {
	Mission         string   `json:"mission"`
	Technical       []string `json:"technical,omitempty"`
	Operational     []string `json:"operational,omitempty"`
	Uncertainties   []string `json:"uncertainties,omitempty"`
	AdaptationGoals []string `json:"adaptation_goals,omitempty"`
}

// Parse builds Requirements from row. Optional columns that are missing or
// hold a not-a-value marker are skipped silently.
func Parse(row Row) (Requirements, error) {
	index := normalize(row)

	mission, ok := index.value(MissionColumn)
	if !ok {
		return Requirements{}, &MissingFieldError{Field: MissionColumn}
	}

	req := Requirements{
		Mission:         mission,
		Technical:       index.lines(TechnicalColumns),
		Operational:     index.lines(OperationalColumns),
		AdaptationGoals: index.lines(AdaptationColumns),
	}

	headers := make([]string, 0, len(row))
	for h := range row {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	for _, h := range headers {
		value, ok := present(row[h])
		if !ok {
			continue
		}
		lower := strings.ToLower(h)
		for _, kw := range UncertaintyKeywords {
			if strings.Contains(lower, kw) {
				req.Uncertainties = append(req.Uncertainties, kw+": "+value)
			}
		}
	}

	return req, nil
}

// Outcome is either parsed Requirements or the error that prevented parsing.
type Outcome struct {
	Requirements Requirements
	Err          error
}

// Extract wraps Parse into an Outcome.
func Extract(row Row) Outcome {
	req, err := Parse(row)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Requirements: req}
}

// OK reports whether the outcome carries requirements.
func (o Outcome) OK() bool { return o.Err == nil }

// Render returns the prompt text, or the error text for a failed outcome.
func (o Outcome) Render() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return Render(o.Requirements)
}

// RobustnessGuidance is appended to every rendered record.
const RobustnessGuidance = `ROBUSTNESS GUIDANCE:
- Guard every action that depends on a sensor, link or power source with a condition node.
- Use Fallback nodes to provide a recovery branch for each action that can fail.
- Wrap actions that may stall in Timeout decorators and transient failures in RetryUntilSuccessful.
- Use ReactiveSequence or ReactiveFallback where conditions must be re-checked while an action runs.
- End the tree in a safe state (hold position, return home or land) when recovery is exhausted.`

// Render formats req under fixed section headers and appends RobustnessGuidance.
// Empty sections are omitted.
func Render(req Requirements) string {
	var b strings.Builder

	section := func(title string, body string) {
		if body == "" {
			return
		}
		b.WriteString(title)
		b.WriteString(":\n")
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	section("MISSION DESCRIPTION", req.Mission)
	section("TECHNICAL CAPABILITIES", bullets(req.Technical))
	section("OPERATIONAL CAPABILITIES", bullets(req.Operational))
	section("UNCERTAINTIES AND CHALLENGES", bullets(req.Uncertainties))
	section("ADAPTATION GOALS", bullets(req.AdaptationGoals))

	b.WriteString(RobustnessGuidance)
	return b.String()
}

func bullets(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return "- " + strings.Join(lines, "\n- ")
}

func present(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if notAValue[strings.ToLower(v)] {
		return "", false
	}
	return v, true
}

// columnIndex looks cells up by header with case, spaces and underscores ignored.
type columnIndex map[string]string

// normalize folds headers that differ only in case or separators. When two
// of them collide, the first in sorted header order that holds a value wins.
func normalize(row Row) columnIndex {
	headers := make([]string, 0, len(row))
	for h := range row {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	idx := make(columnIndex, len(row))
	for _, h := range headers {
		key := headerKey(h)
		if prev, ok := idx[key]; ok {
			if _, set := present(prev); set {
				continue
			}
		}
		idx[key] = row[h]
	}
	return idx
}

func headerKey(h string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(h))
}

func (idx columnIndex) value(header string) (string, bool) {
	v, ok := idx[headerKey(header)]
	if !ok {
		return "", false
	}
	return present(v)
}

func (idx columnIndex) lines(headers []string) []string {
	var out []string
	for _, h := range headers {
		if v, ok := idx.value(h); ok {
			out = append(out, h+": "+v)
		}
	}
	return out
}
