package builds

import "testing"

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		active   bool
	}{
		{StatusScheduled, false, false},
		{StatusBuilding, false, true},
		{StatusRunning, false, true},
		{StatusSuccess, true, false},
		{StatusFailed, true, false},
		{StatusCanceled, true, false},
		{StatusKilled, true, false},
		{StatusDeleted, true, false},
		{StatusObsolete, true, false},
		{StatusStopped, true, false},
		{StatusTimeout, true, false},
		{StatusDuplicate, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Fatalf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.IsActive(); got != tt.active {
				t.Fatalf("IsActive() = %v, want %v", got, tt.active)
			}
			if got := tt.status.IsPending(); got != !tt.terminal {
				t.Fatalf("IsPending() = %v, want %v", got, !tt.terminal)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusObsolete.String(); got != "obsolete" {
		t.Fatalf("String() = %q, want %q", got, "obsolete")
	}
	if got := Status(99).String(); got != "status(99)" {
		t.Fatalf("String() = %q, want %q", got, "status(99)")
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusKilled.Valid() {
		t.Fatal("StatusKilled should be valid")
	}
	if Status(99).Valid() {
		t.Fatal("Status(99) should be invalid")
	}
}

func TestIsDemoRef(t *testing.T) {
	if !IsDemoRef("demo") {
		t.Fatal(`ref "demo" should be a demo build`)
	}
	for _, ref := range []string{"main", "demo/feature", "Demo", ""} {
		if IsDemoRef(ref) {
			t.Fatalf("ref %q should not be a demo build", ref)
		}
	}
}
