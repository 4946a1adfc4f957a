package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestAdmit_UnderLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{"cat": {MaxCalls: 5, Window: 60 * time.Second}}, fixedClock(&now))

	for i := 0; i < 5; i++ {
		if err := l.Admit("cat", "db1"); err != nil {
			t.Fatalf("call %d unexpectedly rejected: %v", i+1, err)
		}
	}
	if err := l.Admit("cat", "db1"); err == nil {
		t.Fatal("sixth call should be rejected")
	}
}

func TestAdmit_LimitErrorDetail(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{"shell": {MaxCalls: 1, Window: 60 * time.Second}}, fixedClock(&now))

	if err := l.Admit("shell", "db1"); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	err := l.Admit("shell", "db1")
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %T", err)
	}
	if limitErr.Category != "shell" || limitErr.MaxCalls != 1 {
		t.Errorf("unexpected error detail: %+v", limitErr)
	}
	want := "Rate limit exceeded for shell: 1 calls per 60 seconds"
	if limitErr.Error() != want {
		t.Errorf("expected %q, got %q", want, limitErr.Error())
	}
}

func TestAdmit_WindowSlides(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{"cat": {MaxCalls: 1, Window: 10 * time.Second}}, fixedClock(&now))

	if err := l.Admit("cat", "db1"); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	if err := l.Admit("cat", "db1"); err == nil {
		t.Fatal("second call within window should be rejected")
	}

	now = now.Add(11 * time.Second)
	if err := l.Admit("cat", "db1"); err != nil {
		t.Fatalf("call after window drained should be admitted: %v", err)
	}
}

func TestAdmit_IndependentCategories(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{
		"cat_a": {MaxCalls: 1, Window: 60 * time.Second},
		"cat_b": {MaxCalls: 1, Window: 60 * time.Second},
	}, fixedClock(&now))

	if err := l.Admit("cat_a", "db1"); err != nil {
		t.Fatalf("cat_a rejected: %v", err)
	}
	if err := l.Admit("cat_b", "db1"); err != nil {
		t.Fatalf("cat_b should not share cat_a's window: %v", err)
	}
}

func TestAdmit_IndependentTenants(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{"cat": {MaxCalls: 1, Window: 60 * time.Second}}, fixedClock(&now))

	if err := l.Admit("cat", "db1"); err != nil {
		t.Fatalf("db1 rejected: %v", err)
	}
	if err := l.Admit("cat", "db2"); err != nil {
		t.Fatalf("db2 should not share db1's window: %v", err)
	}
}

func TestAdmit_ZeroMaxRejectsImmediately(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{"zero": {MaxCalls: 0, Window: 60 * time.Second}}, fixedClock(&now))

	if err := l.Admit("zero", "db1"); err == nil {
		t.Fatal("zero-max category should reject immediately")
	}
}

func TestAdmit_UnknownCategoryAdmits(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{}, fixedClock(&now))

	if err := l.Admit("unconfigured", "db1"); err != nil {
		t.Fatalf("unconfigured category should admit: %v", err)
	}
	if n := l.Prune(); n != 0 {
		t.Errorf("unconfigured admissions must not be recorded, pruned %d keys", n)
	}
}

func TestAdmit_RejectionNotRecorded(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{"cat": {MaxCalls: 2, Window: 10 * time.Second}}, fixedClock(&now))

	l.Admit("cat", "db1")
	l.Admit("cat", "db1")
	// Rejected attempts must not consume window slots.
	for i := 0; i < 10; i++ {
		if err := l.Admit("cat", "db1"); err == nil {
			t.Fatal("over-limit call admitted")
		}
	}

	now = now.Add(11 * time.Second)
	if err := l.Admit("cat", "db1"); err != nil {
		t.Fatalf("window should have drained despite rejected attempts: %v", err)
	}
}

// The admission invariant under concurrency: for any trailing window, the
// number of recorded admissions never exceeds MaxCalls.
func TestAdmit_ConcurrentNeverOverAdmits(t *testing.T) {
	const maxCalls = 25
	l := New(map[string]Rule{"cat": {MaxCalls: maxCalls, Window: time.Hour}})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Admit("cat", "db1"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != maxCalls {
		t.Errorf("expected exactly %d admissions, got %d", maxCalls, admitted)
	}
}

func TestPrune_RemovesIdleKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(map[string]Rule{
		"fast": {MaxCalls: 5, Window: 10 * time.Second},
		"slow": {MaxCalls: 5, Window: 120 * time.Second},
	}, fixedClock(&now))

	l.Admit("fast", "db1")
	l.Admit("slow", "db1")

	now = now.Add(30 * time.Second)
	if n := l.Prune(); n != 1 {
		t.Errorf("expected 1 pruned key (fast), got %d", n)
	}
	// slow still live; pruning again removes nothing.
	if n := l.Prune(); n != 0 {
		t.Errorf("expected 0 pruned keys, got %d", n)
	}
}

func TestSetRule_Override(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewWithNow(DefaultRules(), fixedClock(&now))
	l.SetRule(CategoryShell, Rule{MaxCalls: 1, Window: 60 * time.Second})

	if err := l.Admit(CategoryShell, "db1"); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	if err := l.Admit(CategoryShell, "db1"); err == nil {
		t.Fatal("override should cap shell at 1 call")
	}
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Rule
		wantErr bool
	}{
		{"plain", "5/60", Rule{MaxCalls: 5, Window: 60 * time.Second}, false},
		{"spaced", " 10 / 30 ", Rule{MaxCalls: 10, Window: 30 * time.Second}, false},
		{"zero max", "0/60", Rule{MaxCalls: 0, Window: 60 * time.Second}, false},
		{"missing window", "5", Rule{}, true},
		{"zero window", "5/0", Rule{}, true},
		{"garbage", "lots/often", Rule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDefaultRules_Table(t *testing.T) {
	rules := DefaultRules()

	expect := map[string]Rule{
		CategoryCommand:          {MaxCalls: 10, Window: 60 * time.Second},
		CategoryQuery:            {MaxCalls: 100, Window: 60 * time.Second},
		CategoryWrite:            {MaxCalls: 50, Window: 60 * time.Second},
		CategoryShell:            {MaxCalls: 5, Window: 60 * time.Second},
		CategoryFileRead:         {MaxCalls: 50, Window: 60 * time.Second},
		CategoryFileWrite:        {MaxCalls: 30, Window: 60 * time.Second},
		CategoryRegisterReceiver: {MaxCalls: 5, Window: 60 * time.Second},
	}
	for cat, want := range expect {
		got, ok := rules[cat]
		if !ok {
			t.Errorf("missing category %s", cat)
			continue
		}
		if got != want {
			t.Errorf("%s: expected %+v, got %+v", cat, want, got)
		}
	}
}
