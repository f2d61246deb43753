package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/secops-orchestrator/internal/generation"
	"github.com/phrazzld/secops-orchestrator/internal/task"
)

// Config tunes the built-in workflows.
type Config struct {
	// StepDelay paces each simulated unit of work. Zero runs steps back to back.
	StepDelay time.Duration

	// Narrator writes report executive summaries. Nil selects
	// generation.StaticNarrator.
	Narrator generation.Narrator

	Logger *slog.Logger
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report field names as clients send them
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RegisterAll registers a handler for every built-in task kind.
func RegisterAll(handlers *task.HandlerRegistry, cfg Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Narrator == nil {
		cfg.Narrator = generation.StaticNarrator{}
	}

	builtins := map[task.Kind]task.Handler{
		task.KindCrawl:            &CrawlHandler{stepDelay: cfg.StepDelay},
		task.KindEASMDiscovery:    &EASMHandler{stepDelay: cfg.StepDelay},
		task.KindBASSimulation:    &BASHandler{stepDelay: cfg.StepDelay},
		task.KindReportGeneration: NewReportHandler(cfg.Narrator, cfg.StepDelay, cfg.Logger),
		task.KindAdversarialTest:  &AdversarialHandler{stepDelay: cfg.StepDelay},
	}

	for kind, h := range builtins {
		if err := handlers.Register(kind, h); err != nil {
			return fmt.Errorf("registering %s handler: %w", kind, err)
		}
	}
	return nil
}

// decode unmarshals raw into a T and validates its struct tags.
// normalizer is implemented by parameters that resolve aliases and defaults
// before validation.
type normalizer interface {
	normalize()
}

func decode[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("malformed parameters: %w", err)
	}
	if n, ok := any(&p).(normalizer); ok {
		n.normalize()
	}
	if err := validate.Struct(&p); err != nil {
		return p, describe(err)
	}
	return p, nil
}

// describe flattens validator errors into one client-readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), rule))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// pace waits one step delay, returning early with the context error.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// score maps its inputs to a stable pseudo-random value in [0, 1).
func score(parts ...string) float64 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return float64(h.Sum32()%10000) / 10000
}

func round(x float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(x*pow) / pow
}
