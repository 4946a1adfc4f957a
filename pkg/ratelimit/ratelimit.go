// Package ratelimit provides sliding-window admission control keyed by
// (category, tenant).
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const logPrefix = "ratelimit:ratelimit"

// Rule defines the ceiling for one category: at most MaxCalls admissions
// within any trailing Window.
type Rule struct {
	MaxCalls int
	Window   time.Duration
}

// Rate limit categories. Each tool descriptor names one of these.
const (
	CategoryCommand          = "command"
	CategoryQuery            = "query"
	CategoryWrite            = "write"
	CategoryShell            = "shell"
	CategoryFileRead         = "file_read"
	CategoryFileWrite        = "file_write"
	CategoryRegisterReceiver = "register_receiver"
)

// DefaultRules returns the built-in category table. The most permissive
// read operations get the highest ceiling, the most dangerous the lowest.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		CategoryCommand:          {MaxCalls: 10, Window: 60 * time.Second},
		CategoryQuery:            {MaxCalls: 100, Window: 60 * time.Second},
		CategoryWrite:            {MaxCalls: 50, Window: 60 * time.Second},
		CategoryShell:            {MaxCalls: 5, Window: 60 * time.Second},
		CategoryFileRead:         {MaxCalls: 50, Window: 60 * time.Second},
		CategoryFileWrite:        {MaxCalls: 30, Window: 60 * time.Second},
		CategoryRegisterReceiver: {MaxCalls: 5, Window: 60 * time.Second},
	}
}

// LimitError reports a rejected admission. Transient: the caller should
// back off and retry after the window drains.
type LimitError struct {
	Category string
	Tenant   string
	MaxCalls int
	Window   time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Rate limit exceeded for %s: %d calls per %d seconds",
		e.Category, e.MaxCalls, int(e.Window.Seconds()))
}

type windowKey struct {
	tenant   string
	category string
}

// Limiter is a sliding-window rate limiter. The check-and-record step is
// atomic per key: concurrent callers can never over-admit beyond a rule's
// MaxCalls within any trailing window.
type Limiter struct {
	mu    sync.Mutex
	rules map[string]Rule
	state map[windowKey][]time.Time
	now   func() time.Time
}

// New creates a Limiter with the given category rules.
func New(rules map[string]Rule) *Limiter {
	return NewWithNow(rules, time.Now)
}

// NewWithNow creates a Limiter with an injectable clock for tests.
func NewWithNow(rules map[string]Rule, now func() time.Time) *Limiter {
	r := make(map[string]Rule, len(rules))
	for cat, rule := range rules {
		r[cat] = rule
	}
	return &Limiter{
		rules: r,
		state: make(map[windowKey][]time.Time),
		now:   now,
	}
}

// Admit checks whether a call in the given category may proceed for the
// tenant, recording the admission timestamp only when it does. A category
// with no configured rule is admitted without recording. Returns a
// *LimitError on rejection, nil on admission.
func (l *Limiter) Admit(category, tenant string) error {
	rule, ok := l.rules[category]
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := windowKey{tenant: tenant, category: category}
	now := l.now()
	cutoff := now.Add(-rule.Window)

	calls := l.state[key]
	kept := calls[:0]
	for _, ts := range calls {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rule.MaxCalls {
		l.state[key] = kept
		return &LimitError{
			Category: category,
			Tenant:   tenant,
			MaxCalls: rule.MaxCalls,
			Window:   rule.Window,
		}
	}

	l.state[key] = append(kept, now)
	return nil
}

// SetRule installs or replaces the rule for a category. Intended for
// startup-time overrides, before concurrent admission begins.
func (l *Limiter) SetRule(category string, rule Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules[category] = rule
}

// Rules returns a copy of the active category table.
func (l *Limiter) Rules() map[string]Rule {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Rule, len(l.rules))
	for cat, rule := range l.rules {
		out[cat] = rule
	}
	return out
}

// Prune drops keys whose every recorded timestamp has aged out of its
// window. Memory bounding only; admission correctness never depends on it.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, calls := range l.state {
		rule, ok := l.rules[key.category]
		if !ok {
			delete(l.state, key)
			removed++
			continue
		}
		cutoff := now.Add(-rule.Window)
		live := false
		for _, ts := range calls {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.state, key)
			removed++
		}
	}
	return removed
}

// ParseRule parses a "<maxCalls>/<windowSeconds>" override string, e.g. "5/60".
func ParseRule(s string) (Rule, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return Rule{}, fmt.Errorf("%s - invalid rule %q, want \"max/windowSeconds\"", logPrefix, s)
	}
	maxCalls, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || maxCalls < 0 {
		return Rule{}, fmt.Errorf("%s - invalid max calls in rule %q", logPrefix, s)
	}
	windowSec, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || windowSec <= 0 {
		return Rule{}, fmt.Errorf("%s - invalid window in rule %q", logPrefix, s)
	}
	return Rule{MaxCalls: maxCalls, Window: time.Duration(windowSec) * time.Second}, nil
}
