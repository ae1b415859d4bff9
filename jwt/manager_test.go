package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestIssueAndParseHS256(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: testSecret, Issuer: "goaccount"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	value, issued, err := m.Issue("u1", "REFRESH", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.ID == "" {
		t.Fatal("expected jti to be generated")
	}

	claims, err := m.Parse(value)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u1" || claims.Type != "REFRESH" || claims.Issuer != "goaccount" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID != issued.ID {
		t.Fatalf("jti mismatch: %q != %q", claims.ID, issued.ID)
	}
}

func TestIssueProducesDistinctValues(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: testSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	a, _, err := m.Issue("u1", "ACCESS", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	b, _, err := m.Issue("u1", "ACCESS", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if a == b {
		t.Fatal("expected two issues in the same second to differ")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: testSecret}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	value, _, err := m.Issue("u1", "ACCOUNT_ACTIVATION", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Parse(value); err != nil {
		t.Fatalf("expected fresh value to parse: %v", err)
	}

	clock.now = clock.now.Add(2 * time.Minute)
	_, err = m.Parse(value)
	if !IsExpired(err) {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestParseRejectsTamperedValue(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: testSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	value, _, err := m.Issue("u1", "REFRESH", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(value, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	if _, err := m.Parse(strings.Join(parts, ".")); err == nil {
		t.Fatal("expected tampered signature to be rejected")
	}

	other, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("ffffffffffffffffffffffffffffffff")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := other.Parse(value); err == nil {
		t.Fatal("expected value signed with another key to be rejected")
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{Type: "ACCESS", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	value, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(value); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestEd25519IssuerAudienceAndKeyRotation(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)

	signer, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    oldPriv,
		PublicKey:     oldPub,
		Issuer:        "goaccount",
		Audience:      "api",
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": oldPub},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	value, _, err := signer.Issue("u1", "REFRESH", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rotated, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		PublicKey:     newPub,
		Issuer:        "goaccount",
		Audience:      "api",
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": oldPub, "k2": newPub},
	})
	if err != nil {
		t.Fatalf("new rotated manager: %v", err)
	}
	if _, err := rotated.Parse(value); err != nil {
		t.Fatalf("expected value signed with retired key to verify: %v", err)
	}

	wrongAudience, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PublicKey:     oldPub,
		Issuer:        "goaccount",
		Audience:      "admin",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := wrongAudience.Parse(value); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"short hs256 key", Config{SigningMethod: MethodHS256, PrivateKey: []byte("short")}},
		{"unknown method", Config{SigningMethod: "rs512", PrivateKey: testSecret}},
		{"ed25519 without public key", Config{SigningMethod: MethodEd25519}},
		{"negative leeway", Config{SigningMethod: MethodHS256, PrivateKey: testSecret, Leeway: -time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: testSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, _, err := m.Issue("", "ACCESS", time.Minute); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
}
