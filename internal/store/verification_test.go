package store

import "testing"

func TestVerificationCacheExpiry(t *testing.T) {
	s := newTestStore(t)

	if err := s.VerificationPut("did:plc:A", "zQ3shabc", 100); err != nil {
		t.Fatalf("VerificationPut: %v", err)
	}

	multikey, ok, err := s.VerificationGet("did:plc:A", 150, 100)
	if err != nil {
		t.Fatalf("VerificationGet: %v", err)
	}
	if !ok || multikey != "zQ3shabc" {
		t.Fatalf("expected cached multikey, got ok=%v multikey=%q", ok, multikey)
	}

	if _, ok, _ := s.VerificationGet("did:plc:A", 300, 100); ok {
		t.Fatal("expected an entry past max age to be treated as a miss")
	}

	if err := s.VerificationCleanup(200); err != nil {
		t.Fatalf("VerificationCleanup: %v", err)
	}
	if _, ok, _ := s.VerificationGet("did:plc:A", 150, 100); ok {
		t.Fatal("expected the cleaned-up entry to be gone")
	}
}
