package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fixed TOTP parameters.
const (
	Algorithm = "SHA512"
	Digits    = 6
	Period    = 30
	// Skew is the number of steps accepted on either side of the current one.
	Skew = 1

	secretBytes = 20
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrEmptySecret is returned when a code is checked against a user without a secret.
var ErrEmptySecret = errors.New("two-factor secret not set")

func generateSecret(r io.Reader) (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// GenerateSecret returns a fresh base32 secret from crypto/rand.
func GenerateSecret() (string, error) {
	return generateSecret(rand.Reader)
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	if s == "" {
		return nil, ErrEmptySecret
	}
	return secretEncoding.DecodeString(s)
}

// provisionURI builds the otpauth key URI for authenticator apps.
func provisionURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("algorithm", Algorithm)
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("period", strconv.Itoa(Period))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// verifyTOTP checks code against secret at now, accepting Skew steps of drift.
func verifyTOTP(secret, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != Digits || !isNumeric(trimmed) {
		return false, nil
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}

	base := now.Unix() / Period
	matched := 0
	for step := int64(-Skew); step <= Skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		generated := hotp(key, uint64(counter))
		matched |= subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed))
	}
	return matched == 1, nil
}

// GenerateCode returns the code for secret at t. Authenticator apps compute
// the same value; servers only verify.
func GenerateCode(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	if t.Unix() < 0 {
		return "", errors.New("time before unix epoch")
	}
	return hotp(key, uint64(t.Unix()/Period)), nil
}

// hotp computes the RFC 4226 value for counter using HMAC-SHA512.
func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha512.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	return fmt.Sprintf("%0*d", Digits, bin%1_000_000)
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
