package lifecycle

import "testing"

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestSetShuttingDown_CancelsContext(t *testing.T) {
	SetShuttingDown(false)
	ctx := Context()
	if ctx.Err() != nil {
		t.Fatalf("Context() already done: %v", ctx.Err())
	}

	SetShuttingDown(true)
	defer SetShuttingDown(false)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true), want true")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("Context() not cancelled after SetShuttingDown(true)")
	}
}

func TestSetShuttingDown_FalseIssuesFreshContext(t *testing.T) {
	SetShuttingDown(true)
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
	if err := Context().Err(); err != nil {
		t.Errorf("Context().Err() = %v after reset, want nil", err)
	}
}
