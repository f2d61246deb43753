// Package workflow provides the built-in task handlers of the orchestrator:
// vulnerability crawling, external attack surface discovery, breach and
// attack simulation, report generation and adversarial model testing.
//
// The security engines behind each workflow are simulated. What is real is
// the contract every handler honors: parameters are decoded and validated
// at submission time, each unit of work reports progress, and the context
// is checked between units so cancellation and time budgets take effect
// promptly. Simulated outputs are derived deterministically from the
// parameters, so identical submissions produce identical results apart
// from timestamps.
package workflow
