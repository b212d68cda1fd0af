package batch

import (
	"errors"
	"strings"
	"testing"
)

func TestNewOK(t *testing.T) {
	r := NewOK("doc-1")
	if r.ID() != "doc-1" {
		t.Errorf("ID() = %q", r.ID())
	}
	if r.Status() != StatusOK {
		t.Errorf("Status() = %q, want %q", r.Status(), StatusOK)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v, want nil", r.Err())
	}
	if !r.OK() {
		t.Error("OK() = false")
	}
}

func TestNewError(t *testing.T) {
	err := errors.New("something failed")
	r := NewError("doc-2", err)
	if r.ID() != "doc-2" {
		t.Errorf("ID() = %q", r.ID())
	}
	if r.Status() != StatusError {
		t.Errorf("Status() = %q, want %q", r.Status(), StatusError)
	}
	if !errors.Is(r.Err(), err) {
		t.Errorf("Err() = %v, want %v", r.Err(), err)
	}
}

func TestJoin_AllOK(t *testing.T) {
	results := []Result{NewOK("a"), NewOK("b")}
	if err := Join(results); err != nil {
		t.Fatalf("Join = %v, want nil", err)
	}
	if n := len(Failures(results)); n != 0 {
		t.Errorf("Failures = %d, want 0", n)
	}
}

func TestJoin_ReportsEveryFailure(t *testing.T) {
	boom := errors.New("boom")
	results := []Result{NewOK("a"), NewError("b", boom), NewError("c", nil)}

	err := Join(results)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, boom) {
		t.Errorf("Join should wrap the item error, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "b: boom") || !strings.Contains(msg, "c: unknown failure") {
		t.Errorf("unexpected message %q", msg)
	}
	if n := len(Failures(results)); n != 2 {
		t.Errorf("Failures = %d, want 2", n)
	}
}
