package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// Asset types reported by discovery.
const (
	AssetDomain      = "domain"
	AssetSubdomain   = "subdomain"
	AssetIPAddress   = "ip_address"
	AssetOpenPort    = "open_port"
	AssetCertificate = "certificate"
)

// EASMParams are the parameters of an easm_discovery task.
type EASMParams struct {
	Targets    []string `json:"targets" validate:"required,min=1,dive,required,hostname_rfc1123|ip|cidr"`
	AssetTypes []string `json:"asset_types" validate:"omitempty,dive,oneof=domain subdomain ip_address open_port certificate"`
}

// Asset is one externally reachable asset.
type Asset struct {
	ID                   string    `json:"id"`
	AssetType            string    `json:"asset_type"`
	Identifier           string    `json:"identifier"`
	Seed                 string    `json:"seed"`
	DiscoveredAt         time.Time `json:"discovered_at"`
	LastSeen             time.Time `json:"last_seen"`
	RiskScore            float64   `json:"risk_score"`
	VulnerabilitiesFound int       `json:"vulnerabilities_found"`
	Status               string    `json:"status"`
}

// EASMResult is the result of an easm_discovery task.
type EASMResult struct {
	Targets []string `json:"targets"`
	Assets  []Asset  `json:"assets"`
	// HighRisk counts assets with a risk score of 7 or more.
	HighRisk int `json:"high_risk"`
}

// EASMHandler discovers the external attack surface reachable from seed
// targets. One target is one progress step.
type EASMHandler struct {
	stepDelay time.Duration
}

// Validate implements task.Validator.
func (h *EASMHandler) Validate(raw json.RawMessage) (task.Plan, error) {
	p, err := decode[EASMParams](raw)
	if err != nil {
		return task.Plan{}, err
	}
	return task.Plan{TotalSteps: len(p.Targets)}, nil
}

// Execute implements task.Handler.
func (h *EASMHandler) Execute(ctx context.Context, raw json.RawMessage, progress task.ProgressSink) (any, error) {
	p, err := decode[EASMParams](raw)
	if err != nil {
		return nil, err
	}

	result := EASMResult{Targets: p.Targets, Assets: []Asset{}}
	for i, target := range p.Targets {
		if err := pace(ctx, h.stepDelay); err != nil {
			return nil, fmt.Errorf("discovery interrupted at %s: %w", target, err)
		}

		for _, a := range discover(target) {
			if len(p.AssetTypes) > 0 && !slices.Contains(p.AssetTypes, a.AssetType) {
				continue
			}
			a.ID = fmt.Sprintf("easm_asset_%d", len(result.Assets)+1)
			if a.RiskScore >= 7 {
				result.HighRisk++
			}
			result.Assets = append(result.Assets, a)
		}
		progress(i+1, len(p.Targets))
	}
	return result, nil
}

// discover expands one seed target into the assets it exposes.
func discover(target string) []Asset {
	var found []struct{ kind, identifier string }
	add := func(kind, identifier string) {
		found = append(found, struct{ kind, identifier string }{kind, identifier})
	}

	if prefix, err := netip.ParsePrefix(target); err == nil {
		addr := prefix.Masked().Addr()
		for i := 0; i < 2; i++ {
			addr = addr.Next()
			if !addr.IsValid() || !prefix.Contains(addr) {
				break
			}
			add(AssetIPAddress, addr.String())
			add(AssetOpenPort, netip.AddrPortFrom(addr, 443).String())
		}
	} else if addr, err := netip.ParseAddr(target); err == nil {
		add(AssetIPAddress, addr.String())
		add(AssetOpenPort, netip.AddrPortFrom(addr, 22).String())
		add(AssetOpenPort, netip.AddrPortFrom(addr, 443).String())
	} else {
		add(AssetDomain, target)
		add(AssetSubdomain, "www."+target)
		add(AssetSubdomain, "api."+target)
		add(AssetCertificate, "CN="+target)
	}

	now := time.Now().UTC()
	assets := make([]Asset, 0, len(found))
	for _, f := range found {
		s := score(f.kind, f.identifier)
		status := "active"
		if s < 0.2 {
			status = "unverified"
		}
		assets = append(assets, Asset{
			AssetType:            f.kind,
			Identifier:           f.identifier,
			Seed:                 target,
			DiscoveredAt:         now,
			LastSeen:             now,
			RiskScore:            round(10*s, 1),
			VulnerabilitiesFound: int(s * 5),
			Status:               status,
		})
	}
	return assets
}
