package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcID = "argon2id"

// Lower bounds accepted for configured and stored parameters.
const (
	minMemoryKiB   uint32 = 8 * 1024
	minIterations  uint32 = 1
	minThreads     uint8  = 1
	minSaltBytes   uint32 = 16
	minDigestBytes uint32 = 16
)

var (
	ErrMalformedHash = errors.New("malformed argon2id hash")
	ErrEmptyPassword = errors.New("password is empty")
)

// Hasher is the credential hashing contract consumed by the engine.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Config sets the Argon2id cost parameters.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the parameters recommended for interactive logins.
func DefaultConfig() Config {
	return Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// Argon2 hashes passwords with Argon2id into PHC strings.
type Argon2 struct {
	cfg  Config
	rand io.Reader
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKiB:
		return nil, fmt.Errorf("password memory must be >= %d KiB", minMemoryKiB)
	case cfg.Time < minIterations:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minThreads:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltBytes:
		return nil, fmt.Errorf("password salt length must be >= %d", minSaltBytes)
	case cfg.KeyLength < minDigestBytes:
		return nil, fmt.Errorf("password key length must be >= %d", minDigestBytes)
	}
	return &Argon2{cfg: cfg, rand: rand.Reader}, nil
}

// Hash derives a salted digest of password. Bytes are used as given, with
// no Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, a.cfg.SaltLength)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", err
	}
	p := phc{
		memory:  a.cfg.Memory,
		time:    a.cfg.Time,
		threads: a.cfg.Parallelism,
		salt:    salt,
	}
	p.digest = p.derive(password, a.cfg.KeyLength)
	return p.String(), nil
}

// Verify reports whether password matches encoded, in constant time.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	computed := p.derive(password, uint32(len(p.digest)))
	return subtle.ConstantTimeCompare(computed, p.digest) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the hasher is configured for.
func (a *Argon2) NeedsRehash(encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return p.memory < a.cfg.Memory ||
		p.time < a.cfg.Time ||
		p.threads < a.cfg.Parallelism ||
		uint32(len(p.digest)) != a.cfg.KeyLength, nil
}

type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	digest  []byte
}

func (p phc) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, keyLen)
}

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcID, argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.digest))
}

// parsePHC decodes $argon2id$v=19$m=..,t=..,p=..$salt$digest. Salt and digest
// are accepted with or without base64 padding.
func parsePHC(encoded string) (phc, error) {
	var p phc
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != phcID {
		return p, ErrMalformedHash
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	seen := 0
	for _, kv := range strings.Split(fields[3], ",") {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return p, ErrMalformedHash
		}
		switch key {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minMemoryKiB {
				return p, fmt.Errorf("%w: memory", ErrMalformedHash)
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minIterations {
				return p, fmt.Errorf("%w: time", ErrMalformedHash)
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || uint8(v) < minThreads {
				return p, fmt.Errorf("%w: parallelism", ErrMalformedHash)
			}
			p.threads = uint8(v)
		default:
			return p, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, key)
		}
		seen++
	}
	if seen != 3 {
		return p, fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}

	var err error
	if p.salt, err = decodeB64(fields[4]); err != nil || uint32(len(p.salt)) < minSaltBytes {
		return p, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.digest, err = decodeB64(fields[5]); err != nil || len(p.digest) == 0 {
		return p, fmt.Errorf("%w: digest", ErrMalformedHash)
	}
	return p, nil
}

func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
