// Package gemini provides an implementation of the generation.Narrator
// interface backed by Google's Gemini API.
//
// This package is an infrastructure adapter: it turns security findings into
// a prompt, calls the model through the google.golang.org/genai client, and
// translates API failures into the generation package's sentinel errors.
// Transient failures are retried with exponential backoff and jitter; safety
// blocks and malformed responses are returned immediately.
package gemini
