// Package generation defines the boundary between report workflows and
// external AI/LLM services. A Narrator turns structured security findings
// into prose for the executive summary of a report; the Gemini-backed
// implementation lives in internal/platform/gemini, and StaticNarrator is
// the deterministic fallback used when no LLM is configured.
package generation
