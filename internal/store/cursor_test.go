package store

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.CursorGet("jetstream"); err != nil || ok {
		t.Fatalf("expected no cursor before first checkpoint, got ok=%v err=%v", ok, err)
	}

	if err := s.CursorPut("jetstream", 1000, 1); err != nil {
		t.Fatalf("CursorPut: %v", err)
	}
	if err := s.CursorPut("jetstream", 2000, 2); err != nil {
		t.Fatalf("CursorPut (overwrite): %v", err)
	}

	timeUs, ok, err := s.CursorGet("jetstream")
	if err != nil {
		t.Fatalf("CursorGet: %v", err)
	}
	if !ok || timeUs != 2000 {
		t.Fatalf("expected latest checkpoint 2000, got ok=%v time_us=%d", ok, timeUs)
	}

	if _, ok, _ := s.CursorGet("other-host"); ok {
		t.Fatal("cursors must be scoped per source")
	}
}
