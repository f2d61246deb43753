package generation

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// Finding is one security observation fed into a report.
type Finding struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Severity       string `json:"severity,omitempty"`
	Component      string `json:"component,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Narrator writes the executive summary of a security report.
type Narrator interface {
	// Summarize returns a short prose summary of findings against target.
	// Implementations must honor ctx cancellation.
	Summarize(ctx context.Context, target string, findings []Finding) (string, error)
}

var promptTemplate = template.Must(template.New("executive_summary").Parse(
	`Generate the executive summary of a security report for target {{.Target}}.
Findings:
{{range .Findings}}- [{{or .Severity "unrated"}}] {{.Title}}{{if .Description}}: {{.Description}}{{end}}
{{else}}- none
{{end}}Summarize overall risk, the potential impact of the most severe findings with CVE references where they apply, and the three most important remediation steps. Answer in Markdown without headings.`))

// BuildPrompt renders the prompt sent to an LLM narrator.
func BuildPrompt(target string, findings []Finding) (string, error) {
	if target == "" {
		target = "N/A"
	}

	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, struct {
		Target   string
		Findings []Finding
	}{target, findings})
	if err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// StaticNarrator summarizes findings without an LLM by counting them per
// severity.
type StaticNarrator struct{}

// Summarize implements Narrator.
func (StaticNarrator) Summarize(ctx context.Context, target string, findings []Finding) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if target == "" {
		target = "N/A"
	}
	if len(findings) == 0 {
		return fmt.Sprintf("The assessment of %s produced no significant findings.", target), nil
	}

	counts := make(map[string]int)
	for _, f := range findings {
		severity := strings.ToLower(f.Severity)
		if severity == "" {
			severity = "unrated"
		}
		counts[severity]++
	}

	severities := make([]string, 0, len(counts))
	for s := range counts {
		severities = append(severities, s)
	}
	sort.Slice(severities, func(i, j int) bool {
		ri, rj := severityRank(severities[i]), severityRank(severities[j])
		if ri != rj {
			return ri < rj
		}
		return severities[i] < severities[j]
	})

	parts := make([]string, len(severities))
	for i, s := range severities {
		parts[i] = fmt.Sprintf("%d %s", counts[s], s)
	}

	return fmt.Sprintf("The assessment of %s produced %d findings (%s).",
		target, len(findings), strings.Join(parts, ", ")), nil
}

func severityRank(s string) int {
	switch s {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	case "info", "informational":
		return 4
	default:
		return 5
	}
}
