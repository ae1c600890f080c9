package ringbuf

import "testing"

func TestPrices_FillAndSnapshot(t *testing.T) {
	p := NewPrices(4)
	if p.Len() != 0 {
		t.Fatalf("expected empty ring, got len=%d", p.Len())
	}
	if _, ok := p.Last(); ok {
		t.Fatal("Last on empty ring should report false")
	}

	p.Push(1)
	p.Push(2)
	p.Push(3)
	if p.Len() != 3 {
		t.Fatalf("expected len=3, got %d", p.Len())
	}
	got := p.Snapshot()
	want := []float64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if last, _ := p.Last(); last != 3 {
		t.Errorf("Last = %v, want 3", last)
	}
}

func TestPrices_OverwritesOldest(t *testing.T) {
	p := NewPrices(3)
	for i := 1; i <= 5; i++ {
		p.Push(float64(i))
	}
	if p.Len() != 3 {
		t.Fatalf("expected len=3 after overflow, got %d", p.Len())
	}
	got := p.Snapshot()
	want := []float64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if last, _ := p.Last(); last != 5 {
		t.Errorf("Last = %v, want 5", last)
	}
}

func TestPrices_MinimumCapacity(t *testing.T) {
	p := NewPrices(0)
	if p.Cap() != 2 {
		t.Fatalf("expected minimum cap 2, got %d", p.Cap())
	}
}

func TestPrices_Restore(t *testing.T) {
	p := NewPrices(3)
	p.Restore([]float64{1, 2, 3, 4, 5})
	got := p.Snapshot()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries after restore, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("restored[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	p.Reset()
	if p.Len() != 0 {
		t.Errorf("expected empty ring after reset, got len=%d", p.Len())
	}
}
