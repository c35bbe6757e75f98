package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomCode returns n characters drawn uniformly from [A-Z0-9].
func randomCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		k, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[k.Int64()])
	}
	return b.String(), nil
}

// NewJobCode builds a PREFIX-YYYYMMDD-XXXXX code for a job created at t.
func NewJobCode(prefix string, t time.Time) (string, error) {
	suffix, err := randomCode(5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", prefix, t.UTC().Format("20060102"), suffix), nil
}

// NewReferralCode returns an 8 character referral code.
func NewReferralCode() (string, error) { return randomCode(8) }
