package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/phrazzld/secops-orchestrator/internal/task"
	"golang.org/x/sync/errgroup"
)

// Vulnerability sources understood by the crawler.
const (
	SourceNVD              = "nvd"
	SourceExploitDB        = "exploitdb"
	SourceGitHubAdvisories = "github_advisories"
)

// CrawlParams are the parameters of a crawl task.
type CrawlParams struct {
	Keywords            []string `json:"keywords" validate:"required,min=1,dive,required"`
	Sources             []string `json:"sources" validate:"omitempty,unique,dive,oneof=nvd exploitdb github_advisories"`
	MaxResultsPerSource int      `json:"max_results_per_source" validate:"gte=0,lte=100"`
}

func (p *CrawlParams) applyDefaults() {
	if len(p.Sources) == 0 {
		p.Sources = []string{SourceNVD, SourceExploitDB}
	}
	if p.MaxResultsPerSource == 0 {
		p.MaxResultsPerSource = 5
	}
}

// Vulnerability is one advisory found by the crawler.
type Vulnerability struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Keyword       string    `json:"keyword"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Severity      string    `json:"severity"`
	CVSSScore     float64   `json:"cvss_score"`
	References    []string  `json:"references"`
	PublishedDate time.Time `json:"published_date"`
}

// SourceResult groups the vulnerabilities found in one source.
type SourceResult struct {
	Source          string          `json:"source"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// CrawlResult is the result of a crawl task.
type CrawlResult struct {
	Keywords      []string       `json:"keywords"`
	Sources       []SourceResult `json:"sources"`
	TotalFindings int            `json:"total_findings"`
}

// CrawlHandler searches vulnerability sources for keywords, crawling every
// source concurrently. One source is one progress step.
type CrawlHandler struct {
	stepDelay time.Duration
}

// Validate implements task.Validator.
func (h *CrawlHandler) Validate(raw json.RawMessage) (task.Plan, error) {
	p, err := decode[CrawlParams](raw)
	if err != nil {
		return task.Plan{}, err
	}
	p.applyDefaults()
	return task.Plan{TotalSteps: len(p.Sources)}, nil
}

// Execute implements task.Handler.
func (h *CrawlHandler) Execute(ctx context.Context, raw json.RawMessage, progress task.ProgressSink) (any, error) {
	p, err := decode[CrawlParams](raw)
	if err != nil {
		return nil, err
	}
	p.applyDefaults()

	results := make([]SourceResult, len(p.Sources))
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for i, source := range p.Sources {
		g.Go(func() error {
			if err := pace(gctx, h.stepDelay); err != nil {
				return err
			}
			results[i] = SourceResult{
				Source:          source,
				Vulnerabilities: crawlSource(source, p.Keywords, p.MaxResultsPerSource),
			}
			progress(int(done.Add(1)), len(p.Sources))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("crawl interrupted: %w", err)
	}

	total := 0
	for _, r := range results {
		total += len(r.Vulnerabilities)
	}
	return CrawlResult{Keywords: p.Keywords, Sources: results, TotalFindings: total}, nil
}

// crawlSource returns at most limit advisories for keywords, one per keyword.
func crawlSource(source string, keywords []string, limit int) []Vulnerability {
	if len(keywords) < limit {
		limit = len(keywords)
	}

	now := time.Now().UTC()
	out := make([]Vulnerability, 0, limit)
	for _, kw := range keywords[:limit] {
		s := score(source, kw)
		cvss := round(1+9*s, 1)
		seq := int(s * 10000)

		v := Vulnerability{
			Source:        source,
			Keyword:       kw,
			Severity:      severityFor(cvss),
			CVSSScore:     cvss,
			PublishedDate: now.Add(-time.Duration(seq%30+1) * 24 * time.Hour).Truncate(time.Hour),
		}
		switch source {
		case SourceNVD:
			v.ID = fmt.Sprintf("CVE-%d-%04d", now.Year(), seq)
			v.Title = fmt.Sprintf("Vulnerability in %s", kw)
			v.Description = fmt.Sprintf("A flaw in %s allows remote attackers to compromise affected systems.", kw)
			v.References = []string{"https://nvd.nist.gov/vuln/detail/" + v.ID}
		case SourceExploitDB:
			v.ID = fmt.Sprintf("EDB-ID-%d", 50000+seq)
			v.Title = fmt.Sprintf("%s - Proof of Concept Exploit", kw)
			v.Description = fmt.Sprintf("Public exploit code targeting %s.", kw)
			v.References = []string{fmt.Sprintf("https://www.exploit-db.com/exploits/%d", 50000+seq)}
		case SourceGitHubAdvisories:
			v.ID = fmt.Sprintf("GHSA-%04x-%04x-%04x", seq, seq*7%0xffff, seq*13%0xffff)
			v.Title = fmt.Sprintf("Security advisory for %s", kw)
			v.Description = fmt.Sprintf("A dependency advisory affecting %s.", kw)
			v.References = []string{"https://github.com/advisories/" + v.ID}
		}
		out = append(out, v)
	}
	return out
}

func severityFor(cvss float64) string {
	switch {
	case cvss >= 9:
		return "CRITICAL"
	case cvss >= 7:
		return "HIGH"
	case cvss >= 4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
