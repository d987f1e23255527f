package replay

import "testing"

func TestWindow_New(t *testing.T) {
	w := NewWindow(64)
	if w.windowSize != 64 {
		t.Errorf("expected window size 64, got %d", w.windowSize)
	}
	if w.Last() != 0 {
		t.Errorf("expected initial last sequence 0, got %d", w.Last())
	}
	if len(w.bitmap) != 1 {
		t.Errorf("expected bitmap length 1, got %d", len(w.bitmap))
	}
}

func TestWindow_Accept(t *testing.T) {
	w := NewWindow(64)

	if !w.Accept(0) {
		t.Error("should accept the first sequence, 0")
	}
	if !w.Accept(1) {
		t.Error("should accept sequence 1")
	}
	if !w.Accept(5) {
		t.Error("should accept sequence 5")
	}
	if w.Accept(5) {
		t.Error("should reject duplicate sequence 5")
	}
	if w.Accept(1) {
		t.Error("should reject duplicate sequence 1")
	}
}

func TestWindow_OutOfOrder(t *testing.T) {
	w := NewWindow(64)

	if !w.Accept(10) {
		t.Error("should accept sequence 10")
	}
	if !w.Accept(5) {
		t.Error("should accept sequence 5 within window")
	}
	if !w.Accept(8) {
		t.Error("should accept sequence 8 within window")
	}
	if w.Accept(8) {
		t.Error("should reject duplicate sequence 8")
	}
}

func TestWindow_Sliding(t *testing.T) {
	w := NewWindow(4)

	w.Accept(1)
	w.Accept(2)
	w.Accept(3)
	w.Accept(4)

	if !w.Accept(8) {
		t.Error("should accept sequence 8 and slide the window")
	}
	if w.Accept(1) {
		t.Error("should reject sequence 1, now outside the window")
	}
	if !w.Accept(5) {
		t.Error("should accept sequence 5 within the new window")
	}
}

func TestWindow_LargeGaps(t *testing.T) {
	w := NewWindow(64)

	w.Accept(1)
	if !w.Accept(1000) {
		t.Error("should accept sequence 1000")
	}
	if w.Accept(1) {
		t.Error("should reject sequence 1, outside the window after the large gap")
	}
	if !w.Accept(950) {
		t.Error("should accept sequence 950 within the window")
	}
}

func TestWindow_ReplayedBurst(t *testing.T) {
	w := NewWindow(64)

	sequences := []uint64{1, 2, 3, 5, 4, 6, 8, 7, 9, 10}
	for _, seq := range sequences {
		if !w.Accept(seq) {
			t.Errorf("should accept sequence %d in normal flow", seq)
		}
	}

	replayed := []uint64{1, 3, 5, 7, 9}
	for _, seq := range replayed {
		if w.Accept(seq) {
			t.Errorf("should reject replayed sequence %d", seq)
		}
	}
}
