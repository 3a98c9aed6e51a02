package main

import "testing"

// TestCoverageGaps_IntentionallyUntested documents why cmd/service has no unit tests.
// Run with -v to see skip reason.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Skip("main.go is wiring-only; ingestion and report serving are covered in internal/pipeline and internal/http")
}
