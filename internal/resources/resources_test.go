package resources

import (
	"errors"
	"testing"
	"time"
)

func TestManagedPortAlwaysReleases(t *testing.T) {
	m := New(41500, time.Hour)

	var seen int
	err := m.ManagedPort("test", func(port int) error {
		seen = port
		return nil
	})
	if err != nil {
		t.Fatalf("ManagedPort: %v", err)
	}
	if seen == 0 {
		t.Fatalf("expected a port to be allocated")
	}
	if m.Ports.Allocated() != 0 {
		t.Fatalf("expected port released after ManagedPort returns, got %d allocated", m.Ports.Allocated())
	}
}

func TestManagedPortReleasesOnError(t *testing.T) {
	m := New(41600, time.Hour)

	wantErr := errors.New("boom")
	err := m.ManagedPort("test", func(port int) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if m.Ports.Allocated() != 0 {
		t.Fatalf("expected port released even on error, got %d allocated", m.Ports.Allocated())
	}
}

func TestActiveProcessesStartsAtZero(t *testing.T) {
	m := New(41700, time.Hour)
	if m.ActiveProcesses() != 0 {
		t.Fatalf("expected zero active processes on a fresh manager")
	}
}

func TestCleanupAllOnEmptyManagerIsNoop(t *testing.T) {
	m := New(41800, time.Hour)
	m.CleanupAll() // must not panic or block
	if m.ActiveProcesses() != 0 {
		t.Fatalf("expected zero active processes after cleanup")
	}
}
