package budget

import "testing"

func TestBudget_CanAdmit(t *testing.T) {
	b := New(10, 1000, 60, 5)
	if !b.CanAdmit() {
		t.Fatal("fresh budget should admit work")
	}
}

func TestBudget_TokenCapRefusesAdmission(t *testing.T) {
	b := New(100, 1000, 3600, 50)
	b = b.Record(Delta{Tokens: 1000})

	if b.CanAdmit() {
		t.Error("admission should be refused once tokens reach the cap")
	}
	if !b.Exceeded {
		t.Error("exceeded should be true at exactly max_tokens")
	}
	if b.ExceededReason == "" {
		t.Error("exceeded_reason should be non-empty")
	}
}

func TestBudget_MonotonicConsumption(t *testing.T) {
	b := New(100, 10000, 3600, 50)
	prev := b
	for i := 0; i < 10; i++ {
		b = b.Record(Delta{Iterations: 1, Tokens: 100})
		if b.TokensUsed < prev.TokensUsed || b.IterationsUsed < prev.IterationsUsed {
			t.Fatalf("consumption decreased: %+v -> %+v", prev, b)
		}
		prev = b
	}
	if b.TokensUsed != 1000 || b.IterationsUsed != 10 {
		t.Errorf("expected 1000 tokens / 10 iterations, got %d / %d", b.TokensUsed, b.IterationsUsed)
	}
}

func TestBudget_ExceededExactlyAtCap(t *testing.T) {
	b := New(2, 1000, 3600, 50)
	b = b.Record(Delta{Iterations: 1})
	if b.Exceeded {
		t.Error("one below cap should not be exceeded")
	}
	b = b.Record(Delta{Iterations: 1})
	if !b.Exceeded {
		t.Error("reaching the cap should set exceeded")
	}
}

func TestBudget_ExtendClearsExceeded(t *testing.T) {
	b := New(100, 1000, 3600, 50)
	b = b.Record(Delta{Tokens: 1200})
	if !b.Exceeded {
		t.Fatal("expected exceeded budget")
	}

	b = b.Extend(Extension{Tokens: 1000}, true)
	if b.Exceeded {
		t.Error("extension past consumption should clear exceeded")
	}
	if !b.CanAdmit() {
		t.Error("extended budget should admit again")
	}
	if b.MaxTokens != 2000 {
		t.Errorf("expected cap 2000, got %d", b.MaxTokens)
	}
}

func TestBudget_ExtendWithoutClearKeepsFlag(t *testing.T) {
	b := New(100, 1000, 3600, 50)
	b = b.Record(Delta{Tokens: 1000})
	b = b.Extend(Extension{Tokens: 100}, false)
	if !b.Exceeded {
		t.Error("exceeded flag should persist when not cleared")
	}
}

func TestBudget_ExtendInsufficientHeadroom(t *testing.T) {
	b := New(100, 1000, 3600, 50)
	b = b.Record(Delta{Tokens: 2500})
	b = b.Extend(Extension{Tokens: 1000}, true)
	if !b.Exceeded {
		t.Error("extension below consumption should re-trip exceeded")
	}
}

func TestBudget_UsagePercent(t *testing.T) {
	b := New(10, 1000, 100, 10)
	b = b.Record(Delta{Tokens: 500, Iterations: 2})
	got := b.UsagePercent()
	if got != 0.5 {
		t.Errorf("expected 0.5 (token dimension), got %f", got)
	}
}
