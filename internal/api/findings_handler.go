package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/secops-orchestrator/internal/api/shared"
	"github.com/phrazzld/secops-orchestrator/internal/task"
	"github.com/phrazzld/secops-orchestrator/internal/workflow"
)

// Default page sizes of the findings endpoints.
const (
	DefaultVulnerabilityLimit = 10
	DefaultAssetLimit         = 100
)

// ModelMetricsResponse aggregates the adversarial tests run against a model.
type ModelMetricsResponse struct {
	ModelID               string    `json:"model_id"`
	Assessments           int       `json:"assessments"`
	MeanRobustnessScore   float64   `json:"mean_robustness_score"`
	LatestRobustnessScore float64   `json:"latest_robustness_score"`
	LatestTestType        string    `json:"latest_test_type"`
	LatestFindings        []string  `json:"latest_findings"`
	LastAssessmentDate    time.Time `json:"last_assessment_date"`
}

// FindingsHandler serves read-only views over the results of completed
// crawl, easm_discovery and adversarial_test tasks. Newer tasks come first.
type FindingsHandler struct {
	service TaskService
	logger  *slog.Logger
}

// NewFindingsHandler creates a new FindingsHandler
func NewFindingsHandler(service TaskService, logger *slog.Logger) *FindingsHandler {
	if service == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("service cannot be nil for FindingsHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for FindingsHandler")
	}

	return &FindingsHandler{
		service: service,
		logger:  logger.With(slog.String("component", "findings_handler")),
	}
}

// ListVulnerabilities handles GET /intelligence/vulnerabilities with
// optional limit, source and severity filters (case-insensitive).
func (h *FindingsHandler) ListVulnerabilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), "limit", DefaultVulnerabilityLimit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	source, severity := q.Get("source"), q.Get("severity")

	vulns := []workflow.Vulnerability{}
	for _, t := range h.completed(task.KindCrawl) {
		var result workflow.CrawlResult
		if !h.decode(t, &result) {
			continue
		}
		for _, sr := range result.Sources {
			for _, v := range sr.Vulnerabilities {
				if source != "" && !strings.EqualFold(v.Source, source) {
					continue
				}
				if severity != "" && !strings.EqualFold(v.Severity, severity) {
					continue
				}
				vulns = append(vulns, v)
				if len(vulns) == limit {
					shared.RespondWithJSON(w, r, http.StatusOK, vulns)
					return
				}
			}
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, vulns)
}

// ListAssets handles GET /easm/assets with optional limit, asset_type and
// min_risk_score filters.
func (h *FindingsHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), "limit", DefaultAssetLimit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	assetType := q.Get("asset_type")
	minRisk := 0.0
	if s := q.Get("min_risk_score"); s != "" {
		minRisk, err = strconv.ParseFloat(s, 64)
		if err != nil || minRisk < 0 {
			HandleAPIError(w, r, fmt.Errorf("%w: min_risk_score must be a non-negative number", ErrInvalidRequest), "")
			return
		}
	}

	assets := []workflow.Asset{}
	for _, t := range h.completed(task.KindEASMDiscovery) {
		var result workflow.EASMResult
		if !h.decode(t, &result) {
			continue
		}
		for _, a := range result.Assets {
			if assetType != "" && !strings.EqualFold(a.AssetType, assetType) {
				continue
			}
			if a.RiskScore < minRisk {
				continue
			}
			assets = append(assets, a)
			if len(assets) == limit {
				shared.RespondWithJSON(w, r, http.StatusOK, assets)
				return
			}
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, assets)
}

// GetModelMetrics handles GET /ai-security/trustworthy-ai/metrics/{model_id}.
// Models never tested yield 404.
func (h *FindingsHandler) GetModelMetrics(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model_id")
	if modelID == "" {
		HandleAPIError(w, r, fmt.Errorf("%w: model_id is required", ErrInvalidRequest), "")
		return
	}

	resp := ModelMetricsResponse{ModelID: modelID}
	total := 0.0
	for _, t := range h.completed(task.KindAdversarialTest) {
		var result workflow.AdversarialResult
		if !h.decode(t, &result) || result.ModelID != modelID {
			continue
		}
		if resp.Assessments == 0 {
			resp.LatestRobustnessScore = result.RobustnessScore
			resp.LatestTestType = result.TestType
			resp.LatestFindings = result.Findings
			if t.CompletedAt != nil {
				resp.LastAssessmentDate = *t.CompletedAt
			}
		}
		resp.Assessments++
		total += result.RobustnessScore
	}

	if resp.Assessments == 0 {
		HandleAPIError(w, r, fmt.Errorf("%w: no completed adversarial tests for model %q", task.ErrNotFound, modelID), "")
		return
	}
	resp.MeanRobustnessScore = total / float64(resp.Assessments)
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// completed lists the completed tasks of kind, newest first.
func (h *FindingsHandler) completed(kind task.Kind) []task.Task {
	return h.service.List(task.Filter{Kind: kind, Status: task.StatusCompleted, Newest: true}, 0)
}

// decode unmarshals a completed task's result. Results that do not decode
// are logged and skipped.
func (h *FindingsHandler) decode(t task.Task, v any) bool {
	if err := json.Unmarshal(t.Result, v); err != nil {
		h.logger.Warn("skipping undecodable task result",
			slog.String("task_id", t.ID.String()),
			slog.String("kind", string(t.Kind)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}
