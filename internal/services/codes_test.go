package services

import (
	"regexp"
	"testing"
	"time"
)

func TestNewJobCode_Format(t *testing.T) {
	re := regexp.MustCompile(`^CS-20250314-[A-Z0-9]{5}$`)
	at := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := NewJobCode("CS", at)
		if err != nil {
			t.Fatalf("NewJobCode: %v", err)
		}
		if !re.MatchString(code) {
			t.Fatalf("code %q does not match format", code)
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("suffixes look non-random: %d distinct of 50", len(seen))
	}
}

func TestNewReferralCode(t *testing.T) {
	code, err := NewReferralCode()
	if err != nil {
		t.Fatalf("NewReferralCode: %v", err)
	}
	if !regexp.MustCompile(`^[A-Z0-9]{8}$`).MatchString(code) {
		t.Fatalf("bad referral code %q", code)
	}
}
