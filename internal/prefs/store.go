// Package prefs persists user preferences across agent restarts. The file
// is the equivalent of the synced key-value store a browser surface would
// use; writes go through a single writer and replace the file atomically.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// CookieMode selects how credential purges behave.
type CookieMode string

const (
	// CookieModeAuto additionally opts in to automatic recovery purges on
	// request-header-too-large failures.
	CookieModeAuto    CookieMode = "auto"
	CookieModeDefault CookieMode = "default"
	CookieModeAll     CookieMode = "all"
)

// FaviconRule overrides the badge icon for instances matching a pattern.
type FaviconRule struct {
	Pattern string `json:"pattern"`
	Icon    string `json:"icon"`
}

// Settings is everything the agent persists on the user's behalf.
type Settings struct {
	Theme            string          `json:"theme,omitempty"`
	DefaultInstance  string          `json:"default_instance,omitempty"`
	CookieMode       CookieMode      `json:"cookie_mode"`
	FaviconRules     []FaviconRule   `json:"favicon_rules,omitempty"`
	ActivityLog      map[string]bool `json:"activity_log,omitempty"`
	VisitedInstances []string        `json:"visited_instances,omitempty"`
	WelcomeDismissed bool            `json:"welcome_dismissed"`
}

func defaultSettings() Settings {
	return Settings{CookieMode: CookieModeDefault}
}

// Store manages the settings file.
type Store struct {
	path string
	mu   sync.Mutex
	cur  Settings
}

// NewStore loads existing settings or starts from defaults. The parent
// directory is created when missing.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prefs store: mkdir: %w", err)
	}
	s := &Store{path: path, cur: defaultSettings()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs store: read: %w", err)
	}
	if err := json.Unmarshal(data, &s.cur); err != nil {
		return nil, fmt.Errorf("prefs store: parse %s: %w", path, err)
	}
	if s.cur.CookieMode == "" {
		s.cur.CookieMode = CookieModeDefault
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSettings(s.cur)
}

// Update applies fn to the settings and persists the result atomically.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneSettings(s.cur)
	fn(&next)
	if next.CookieMode == "" {
		next.CookieMode = CookieModeDefault
	}
	if err := s.saveLocked(next); err != nil {
		return Settings{}, err
	}
	s.cur = next
	return cloneSettings(next), nil
}

// MarkVisited records an instance in the visited set, keeping it sorted.
func (s *Store) MarkVisited(instance string) error {
	if instance == "" {
		return nil
	}
	_, err := s.Update(func(set *Settings) {
		for _, v := range set.VisitedInstances {
			if v == instance {
				return
			}
		}
		set.VisitedInstances = append(set.VisitedInstances, instance)
		sort.Strings(set.VisitedInstances)
	})
	return err
}

// ActivityEnabled reports whether the activity log is on for an instance.
// Instances without explicit configuration default to enabled.
func (s *Store) ActivityEnabled(instance string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.ActivityLog == nil {
		return true
	}
	enabled, ok := s.cur.ActivityLog[instance]
	if !ok {
		return true
	}
	return enabled
}

func (s *Store) saveLocked(set Settings) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs store: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("prefs store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("prefs store: replace: %w", err)
	}
	return nil
}

func cloneSettings(in Settings) Settings {
	out := in
	out.FaviconRules = append([]FaviconRule(nil), in.FaviconRules...)
	out.VisitedInstances = append([]string(nil), in.VisitedInstances...)
	if in.ActivityLog != nil {
		out.ActivityLog = make(map[string]bool, len(in.ActivityLog))
		for k, v := range in.ActivityLog {
			out.ActivityLog[k] = v
		}
	}
	return out
}
