package service

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Receipt numbers are currency-scoped and human-readable:
// "USD-20260901-7KQ2WX". The suffix alphabet drops the characters
// cashiers misread (0/O, 1/I/L).
const receiptAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const receiptSuffixLen = 6

func newReceiptCandidate(currency string, now time.Time) (string, error) {
	buf := make([]byte, receiptSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = receiptAlphabet[int(b)%len(receiptAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", currency, now.Format("20060102"), string(buf)), nil
}
