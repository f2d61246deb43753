package generation_test

import (
	"context"
	"testing"

	"github.com/phrazzld/secops-orchestrator/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFindings() []generation.Finding {
	return []generation.Finding{
		{Title: "SQL Injection Vulnerability", Description: "User input not sanitized in login form.", Severity: "High"},
		{Title: "Outdated Web Server Version", Description: "Server running Apache/2.4.29.", Severity: "Medium"},
		{Title: "Verbose banner", Severity: "low"},
		{Title: "Exposed admin panel", Severity: "high"},
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	prompt, err := generation.BuildPrompt("http://example.com", sampleFindings())
	require.NoError(t, err)

	assert.Contains(t, prompt, "target http://example.com")
	assert.Contains(t, prompt, "- [High] SQL Injection Vulnerability: User input not sanitized in login form.")
	assert.Contains(t, prompt, "- [low] Verbose banner\n")
	assert.Contains(t, prompt, "remediation steps")
}

func TestBuildPromptDefaults(t *testing.T) {
	t.Parallel()

	prompt, err := generation.BuildPrompt("", []generation.Finding{{Title: "Open port"}})
	require.NoError(t, err)
	assert.Contains(t, prompt, "target N/A")
	assert.Contains(t, prompt, "- [unrated] Open port")

	prompt, err = generation.BuildPrompt("10.0.0.0/24", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "- none")
}

func TestStaticNarrator(t *testing.T) {
	t.Parallel()

	var n generation.Narrator = generation.StaticNarrator{}

	t.Run("counts per severity", func(t *testing.T) {
		summary, err := n.Summarize(context.Background(), "example.com", sampleFindings())
		require.NoError(t, err)
		assert.Equal(t, "The assessment of example.com produced 4 findings (2 high, 1 medium, 1 low).", summary)
	})

	t.Run("no findings", func(t *testing.T) {
		summary, err := n.Summarize(context.Background(), "", nil)
		require.NoError(t, err)
		assert.Equal(t, "The assessment of N/A produced no significant findings.", summary)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := n.Summarize(ctx, "example.com", sampleFindings())
		assert.ErrorIs(t, err, context.Canceled)
	})
}
