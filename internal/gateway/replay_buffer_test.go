package gateway

import (
	"strconv"
	"testing"
)

func pushN(rb *ReplayBuffer, from, to int64) {
	for i := from; i <= to; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}
}

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)
	pushN(rb, 1, 10)

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		if want := strconv.Itoa(i + 3); string(e) != want {
			t.Errorf("entry[%d] = %s, want %s", i, e, want)
		}
	}
	if got := rb.Range(7, 3); len(got) != 0 {
		t.Errorf("inverted range returned %d entries", len(got))
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	pushN(rb, 1, 8)

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	oldest, newest, ok := rb.Bounds()
	if !ok || oldest != 4 || newest != 8 {
		t.Fatalf("Bounds() = %d, %d, %v; want 4, 8, true", oldest, newest, ok)
	}

	got := rb.Range(1, 10)
	if len(got) != 5 {
		t.Fatalf("Range(1,10): expected 5, got %d", len(got))
	}
	if string(got[0]) != "4" || string(got[4]) != "8" {
		t.Errorf("range = %s .. %s, want 4 .. 8", got[0], got[4])
	}
	if got := rb.Range(6, 6); len(got) != 1 || string(got[0]) != "6" {
		t.Errorf("Range(6,6) = %v", got)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	if got := rb.Range(1, 100); len(got) != 0 {
		t.Fatalf("empty buffer Range should return 0, got %d", len(got))
	}
	if _, _, ok := rb.Bounds(); ok {
		t.Fatal("empty buffer reported bounds")
	}
}
