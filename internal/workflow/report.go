package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/secops-orchestrator/internal/generation"
	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// Report formats.
const (
	FormatPDF  = "pdf"
	FormatHTML = "html"
	FormatJSON = "json"
)

// Summary sources recorded on a report.
const (
	SummaryFromNarrator = "narrator"
	SummaryFallback     = "static"
)

// reportSteps are collect, summarize and render.
const reportSteps = 3

// ReportParams are the parameters of a report_generation task.
type ReportParams struct {
	ReportName   string               `json:"report_name" validate:"required"`
	ReportType   string               `json:"report_type" validate:"required,oneof=comprehensive_security_assessment vulnerability_summary easm_findings"`
	DataSources  []string             `json:"data_sources" validate:"required,min=1,dive,required"`
	OutputFormat string               `json:"output_format" validate:"omitempty,oneof=pdf html json"`
	Target       string               `json:"target"`
	Findings     []generation.Finding `json:"findings"`
	LLMParams    map[string]any       `json:"llm_params,omitempty"`
}

// ReportResult is the result of a report_generation task.
type ReportResult struct {
	ReportName    string   `json:"report_name"`
	ReportType    string   `json:"report_type"`
	OutputFormat  string   `json:"output_format"`
	DataSources   []string `json:"data_sources"`
	FindingCount  int      `json:"finding_count"`
	SummarySource string   `json:"summary_source"`
	Content       string   `json:"content"`
	DownloadURL   string   `json:"download_url"`
}

// ReportHandler assembles a Markdown security report whose executive
// summary is written by a Narrator.
type ReportHandler struct {
	narrator  generation.Narrator
	stepDelay time.Duration
	logger    *slog.Logger
}

// NewReportHandler creates a ReportHandler. A nil narrator selects
// generation.StaticNarrator.
func NewReportHandler(narrator generation.Narrator, stepDelay time.Duration, logger *slog.Logger) *ReportHandler {
	if narrator == nil {
		narrator = generation.StaticNarrator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{
		narrator:  narrator,
		stepDelay: stepDelay,
		logger:    logger.With("component", "report_handler"),
	}
}

// Validate implements task.Validator.
func (h *ReportHandler) Validate(raw json.RawMessage) (task.Plan, error) {
	if _, err := decode[ReportParams](raw); err != nil {
		return task.Plan{}, err
	}
	return task.Plan{TotalSteps: reportSteps}, nil
}

// Execute implements task.Handler.
func (h *ReportHandler) Execute(ctx context.Context, raw json.RawMessage, progress task.ProgressSink) (any, error) {
	p, err := decode[ReportParams](raw)
	if err != nil {
		return nil, err
	}
	if p.OutputFormat == "" {
		p.OutputFormat = FormatPDF
	}

	// Collect
	if err := pace(ctx, h.stepDelay); err != nil {
		return nil, fmt.Errorf("collecting data sources: %w", err)
	}
	progress(1, reportSteps)

	// Summarize
	summary, source, err := h.summarize(ctx, p)
	if err != nil {
		return nil, err
	}
	progress(2, reportSteps)

	// Render
	if err := pace(ctx, h.stepDelay); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	content := renderReport(p, summary)
	progress(3, reportSteps)

	id := "unassigned"
	if taskID, ok := task.TaskIDFromContext(ctx); ok {
		id = taskID.String()
	}

	return ReportResult{
		ReportName:    p.ReportName,
		ReportType:    p.ReportType,
		OutputFormat:  p.OutputFormat,
		DataSources:   p.DataSources,
		FindingCount:  len(p.Findings),
		SummarySource: source,
		Content:       content,
		DownloadURL:   fmt.Sprintf("/reports/download/%s/%s", id, ReportFilename(p.OutputFormat)),
	}, nil
}

// ReportFilename names the downloadable document of a report in format.
// The json format downloads the whole result; every other format downloads
// the Markdown content.
func ReportFilename(format string) string {
	if format == FormatJSON {
		return "report.json"
	}
	return "report.md"
}

// summarize asks the narrator for an executive summary. Narrator failures
// other than cancellation fall back to the static summary.
func (h *ReportHandler) summarize(ctx context.Context, p ReportParams) (string, string, error) {
	if _, static := h.narrator.(generation.StaticNarrator); static {
		summary, err := h.narrator.Summarize(ctx, p.Target, p.Findings)
		return summary, SummaryFallback, err
	}

	summary, err := h.narrator.Summarize(ctx, p.Target, p.Findings)
	if err == nil {
		return summary, SummaryFromNarrator, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", "", fmt.Errorf("writing executive summary: %w", err)
	}

	h.logger.WarnContext(ctx, "narrator failed, using static summary",
		"report_name", p.ReportName,
		"error", err)

	summary, err = generation.StaticNarrator{}.Summarize(ctx, p.Target, p.Findings)
	return summary, SummaryFallback, err
}

func renderReport(p ReportParams, summary string) string {
	target := p.Target
	if target == "" {
		target = "N/A"
	}

	sections := []string{
		"# Security Report: " + p.ReportName,
		"## Target: " + target,
		"## Executive Summary",
		summary,
		"## Detailed Findings",
	}

	if len(p.Findings) == 0 {
		sections = append(sections, "No significant findings to report.")
	}
	for i, f := range p.Findings {
		title := f.Title
		if title == "" {
			title = "Untitled Finding"
		}
		sections = append(sections,
			fmt.Sprintf("### Finding %d: %s", i+1, title),
			"**Description:** "+orNA(f.Description),
			"**Severity:** "+orNA(f.Severity),
			"**Affected Component:** "+orNA(f.Component),
			"**Recommendation:** "+orNA(f.Recommendation),
			"---",
		)
	}

	sections = append(sections, "_Data sources: "+strings.Join(p.DataSources, ", ")+"_")
	return strings.Join(sections, "\n\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
