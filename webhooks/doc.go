// Package webhooks authenticates and ingests GitHub webhook deliveries.
//
// Each delivery moves one way through
// received -> verified -> parsed -> persisted -> published -> processed.
// The store insert is the only atomic step; a persisted but unprocessed
// delivery resumes at publish when GitHub redelivers it.
package webhooks
