package twofactor

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/big"
	"strings"
)

// RecoveryCodeCount is the size of every issued batch.
const RecoveryCodeCount = 16

const (
	recoveryAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	recoveryCodeLength = 16
)

// newRecoveryCode draws recoveryCodeLength symbols from r and formats them
// as two dash separated halves.
func newRecoveryCode(r io.Reader) (string, error) {
	symbols := big.NewInt(int64(len(recoveryAlphabet)))
	var b strings.Builder
	b.Grow(recoveryCodeLength + 1)
	for i := 0; i < recoveryCodeLength; i++ {
		if i == recoveryCodeLength/2 {
			b.WriteByte('-')
		}
		n, err := rand.Int(r, symbols)
		if err != nil {
			return "", err
		}
		b.WriteByte(recoveryAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// canonicalRecoveryCode uppercases code and strips dashes and spaces.
func canonicalRecoveryCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return r
		}
	}, code)
}

// recoveryDigest binds a code to its owner before hashing so equal codes of
// different users never share a stored value.
func recoveryDigest(userID, code string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + canonicalRecoveryCode(code)))
	return hex.EncodeToString(sum[:])
}
