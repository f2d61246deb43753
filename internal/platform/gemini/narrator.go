package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/phrazzld/secops-orchestrator/internal/config"
	"github.com/phrazzld/secops-orchestrator/internal/generation"
	"google.golang.org/genai"
)

// contentGenerator is the subset of *genai.Models the narrator uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Narrator implements generation.Narrator with a Gemini model.
type Narrator struct {
	logger    *slog.Logger
	models    contentGenerator
	model     string
	retries   int
	baseDelay time.Duration
}

var _ generation.Narrator = (*Narrator)(nil)

// NewNarrator creates a Gemini client from config and wraps it in a Narrator.
func NewNarrator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Narrator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newNarrator(logger, client.Models, cfg)
}

func newNarrator(logger *slog.Logger, models contentGenerator, cfg config.LLMConfig) (*Narrator, error) {
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	retries := cfg.MaxRetries
	if retries < 0 {
		logger.Warn("invalid max retries value, using default", "max_retries", 3)
		retries = 3
	}
	delaySeconds := cfg.RetryDelaySeconds
	if delaySeconds < 1 {
		logger.Warn("invalid retry delay value, using default", "base_delay_seconds", 2)
		delaySeconds = 2
	}

	return &Narrator{
		logger:    logger.With("component", "gemini_narrator", "model", cfg.ModelName),
		models:    models,
		model:     cfg.ModelName,
		retries:   retries,
		baseDelay: time.Duration(delaySeconds) * time.Second,
	}, nil
}

// Summarize implements generation.Narrator.
func (n *Narrator) Summarize(ctx context.Context, target string, findings []generation.Finding) (string, error) {
	prompt, err := generation.BuildPrompt(target, findings)
	if err != nil {
		return "", fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
	}

	n.logger.DebugContext(ctx, "prompt generated",
		"finding_count", len(findings),
		"prompt_length", len(prompt))

	return n.callWithRetry(ctx, prompt)
}

// callWithRetry makes a call to the Gemini API with exponential backoff retry logic.
// Permanent errors (safety blocks, empty or malformed responses) are returned
// immediately without retrying.
func (n *Narrator) callWithRetry(ctx context.Context, prompt string) (string, error) {
	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		n.logger.InfoContext(ctx, "making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", n.retries+1)

		text, err := n.call(ctx, prompt)
		if err == nil {
			n.logger.InfoContext(ctx, "Gemini API call successful", "attempt", attemptNum)
			return text, nil
		}

		n.logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", err)

		if errors.Is(err, generation.ErrContentBlocked) || errors.Is(err, generation.ErrInvalidResponse) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
		}
		if attempt >= n.retries {
			n.logger.WarnContext(ctx, "maximum retry attempts reached", "max_retries", n.retries)
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				generation.ErrTransientFailure, n.retries, err)
		}

		// delay = baseDelay * 2^attempt * [0.5, 1.0)
		backoff := float64(n.baseDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rand.Float64()*0.5))

		n.logger.InfoContext(ctx, "retrying after delay",
			"attempt", attemptNum,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			n.logger.WarnContext(ctx, "API call cancelled during retry delay",
				"attempt", attemptNum,
				"ctx_err", ctx.Err())
			return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
		}
	}
}

// call performs a single request and extracts the text of the first candidate.
func (n *Narrator) call(ctx context.Context, prompt string) (string, error) {
	resp, err := n.models.GenerateContent(ctx, n.model, genai.Text(prompt), nil)
	switch {
	case err != nil:
		return "", err
	case resp == nil:
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	case len(resp.Candidates) == 0:
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: finish reason %s", generation.ErrContentBlocked, candidate.FinishReason)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: response contained no text", generation.ErrInvalidResponse)
	}
	return text, nil
}
