package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

type (
	// Hasher turns passwords into self-describing encoded hashes
	// and checks passwords against them.
	Hasher interface {
		Scheme() string
		Recognizes(encoded string) bool
		Hash(passwd PlainText) (string, error)
		Verify(encoded string, passwd PlainText) (bool, error)
	}

	Argon2Params struct {
		Time      uint32
		MemoryKiB uint32
		Threads   uint8
		SaltLen   uint32
		KeyLen    uint32
	}

	Argon2Hasher struct {
		params Argon2Params
		rand   io.Reader
	}

	BcryptHasher struct {
		cost int
	}
)

const (
	SchemeArgon2id = "argon2id"
	SchemeBcrypt   = "bcrypt"

	argon2Prefix = "$argon2id$"
)

var (
	// DefaultArgon2Params follows the second recommended option from RFC 9106
	// for memory constrained environments.
	DefaultArgon2Params = Argon2Params{
		Time:      3,
		MemoryKiB: 64 * 1024,
		Threads:   2,
		SaltLen:   16,
		KeyLen:    32,
	}

	bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}
)

// HasherFor returns the hasher for the given scheme name,
// using default parameters.
func HasherFor(scheme string) (Hasher, error) {
	switch scheme {
	case SchemeArgon2id, "":
		return NewArgon2Hasher(DefaultArgon2Params), nil
	case SchemeBcrypt:
		return NewBcryptHasher(bcrypt.DefaultCost), nil
	}
	return nil, fmt.Errorf("auth: unknown hash scheme %q, valid options are %v and %v", scheme, SchemeArgon2id, SchemeBcrypt)
}

func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	if params.Threads == 0 {
		params.Threads = 1
	}
	if params.SaltLen == 0 {
		params.SaltLen = DefaultArgon2Params.SaltLen
	}
	if params.KeyLen == 0 {
		params.KeyLen = DefaultArgon2Params.KeyLen
	}
	return &Argon2Hasher{params: params, rand: rand.Reader}
}

func (a *Argon2Hasher) Scheme() string { return SchemeArgon2id }

func (a *Argon2Hasher) Recognizes(encoded string) bool {
	return strings.HasPrefix(encoded, argon2Prefix)
}

func (a *Argon2Hasher) Hash(passwd PlainText) (string, error) {
	salt := make([]byte, a.params.SaltLen)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", fmt.Errorf("unable to read salt, cause %w", err)
	}
	key := argon2.IDKey(passwd, salt, a.params.Time, a.params.MemoryKiB, a.params.Threads, a.params.KeyLen)
	return fmt.Sprintf("%vv=%d$m=%d,t=%d,p=%d$%v$%v", argon2Prefix, argon2.Version,
		a.params.MemoryKiB, a.params.Time, a.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify uses the parameters stored in encoded, not the ones used
// to configure the hasher.
func (a *Argon2Hasher) Verify(encoded string, passwd PlainText) (bool, error) {
	params, salt, key, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	other := argon2.IDKey(passwd, salt, params.Time, params.MemoryKiB, params.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

func decodeArgon2(encoded string) (Argon2Params, []byte, []byte, error) {
	malformed := MalformedHash{Scheme: SchemeArgon2id}
	// "", "argon2id", "v=19", "m=...,t=...,p=...", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != SchemeArgon2id {
		return Argon2Params{}, nil, nil, malformed
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, malformed
	}
	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return Argon2Params{}, nil, nil, malformed
	}
	if p.Time == 0 || p.Threads == 0 {
		return Argon2Params{}, nil, nil, malformed
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, malformed
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Argon2Params{}, nil, nil, malformed
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (b *BcryptHasher) Scheme() string { return SchemeBcrypt }

func (b *BcryptHasher) Recognizes(encoded string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(encoded, p) {
			return true
		}
	}
	return false
}

func (b *BcryptHasher) Hash(passwd PlainText) (string, error) {
	buf, err := bcrypt.GenerateFromPassword(passwd, b.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", InvalidInput{Field: "password", Reason: "must be at most 72 bytes long"}
	} else if err != nil {
		return "", err
	}
	return string(buf), nil
}

func (b *BcryptHasher) Verify(encoded string, passwd PlainText) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), passwd)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		// could never have been stored in the first place
		return false, nil
	}
	return false, MalformedHash{Scheme: SchemeBcrypt}
}
