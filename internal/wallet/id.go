package wallet

import (
	"crypto/rand"
	"strings"
)

// Unambiguous uppercase alphanumerics: no I, O, 0, 1. Exactly 32 characters,
// so a byte modulo stays unbiased.
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const idPrefix = "ST-"

// NewWalletID generates a fresh public wallet id of the form ST-XXXXXX.
func NewWalletID() string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])

	var b strings.Builder
	b.WriteString(idPrefix)
	for _, c := range buf {
		b.WriteByte(idAlphabet[int(c)%len(idAlphabet)])
	}
	return b.String()
}
