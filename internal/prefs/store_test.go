package prefs

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s, path
}

func TestDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	got := s.Get()
	if got.CookieMode != CookieModeDefault {
		t.Fatalf("CookieMode = %q, want %q", got.CookieMode, CookieModeDefault)
	}
	if got.WelcomeDismissed {
		t.Fatal("WelcomeDismissed should default to false")
	}
}

func TestUpdatePersistsAcrossReload(t *testing.T) {
	s, path := newTestStore(t)

	_, err := s.Update(func(set *Settings) {
		set.Theme = "dark"
		set.CookieMode = CookieModeAuto
		set.WelcomeDismissed = true
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() reload error = %v", err)
	}
	got := reloaded.Get()
	if got.Theme != "dark" || got.CookieMode != CookieModeAuto || !got.WelcomeDismissed {
		t.Fatalf("reloaded settings = %+v", got)
	}
}

func TestMarkVisitedDeduplicatesAndSorts(t *testing.T) {
	s, _ := newTestStore(t)

	for _, inst := range []string{"b.acme.example", "a.acme.example", "b.acme.example", ""} {
		if err := s.MarkVisited(inst); err != nil {
			t.Fatalf("MarkVisited(%q) error = %v", inst, err)
		}
	}

	got := s.Get().VisitedInstances
	want := []string{"a.acme.example", "b.acme.example"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("VisitedInstances = %v, want %v", got, want)
	}
}

func TestActivityEnabledDefaultsOn(t *testing.T) {
	s, _ := newTestStore(t)
	if !s.ActivityEnabled("a.acme.example") {
		t.Fatal("activity log should default to enabled")
	}

	_, err := s.Update(func(set *Settings) {
		set.ActivityLog = map[string]bool{"a.acme.example": false}
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if s.ActivityEnabled("a.acme.example") {
		t.Fatal("activity log should be disabled after opt-out")
	}
	if !s.ActivityEnabled("b.acme.example") {
		t.Fatal("unconfigured instance should stay enabled")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Update(func(set *Settings) {
		set.VisitedInstances = []string{"a.acme.example"}
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got := s.Get()
	got.VisitedInstances[0] = "mutated"
	if s.Get().VisitedInstances[0] != "a.acme.example" {
		t.Fatal("Get() must return an isolated copy")
	}
}
