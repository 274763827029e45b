// AngelaMos | 2026
// security.go

package core

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var ErrMalformedHash = errors.New("malformed password hash")

// PasswordParams are the argon2id cost settings encoded into every hash.
type PasswordParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

var DefaultPasswordParams = PasswordParams{
	Memory:      64 * 1024,
	Iterations:  1,
	Parallelism: 4,
	KeyLength:   32,
	SaltLength:  16,
}

func HashPassword(password string) (string, error) {
	return DefaultPasswordParams.Hash(password)
}

// Hash encodes password in the PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
func (p PasswordParams) Hash(password string) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// decoyHash is verified against when the account does not exist so that
// unknown emails cost the same as wrong passwords.
var decoyHash = sync.OnceValue(func() string {
	hash, err := HashPassword("decoy-password-for-unknown-accounts")
	if err != nil {
		panic(fmt.Sprintf("security: decoy hash: %v", err))
	}
	return hash
})

// CheckPassword verifies password against encoded. A nil or empty encoded
// hash still runs a full argon2 derivation and always fails. When the hash
// was produced with outdated params and the password matches, rehash holds
// a replacement encoded with DefaultPasswordParams.
func CheckPassword(password string, encoded *string) (ok bool, rehash string, err error) {
	if encoded == nil || *encoded == "" {
		_, _, _ = verify(password, decoyHash()) //nolint:errcheck // timing only
		return false, "", nil
	}

	ok, params, err := verify(password, *encoded)
	if err != nil || !ok {
		return false, "", err
	}

	if params == DefaultPasswordParams {
		return true, "", nil
	}

	rehash, err = HashPassword(password)
	if err != nil {
		return true, "", nil //nolint:nilerr // login succeeds even if the upgrade does not
	}
	return true, rehash, nil
}

func verify(password, encoded string) (bool, PasswordParams, error) {
	params, salt, key, err := parsePasswordHash(encoded)
	if err != nil {
		return false, params, err
	}

	candidate := argon2.IDKey(
		[]byte(password), salt,
		params.Iterations, params.Memory, params.Parallelism, params.KeyLength,
	)

	return subtle.ConstantTimeCompare(key, candidate) == 1, params, nil
}

func parsePasswordHash(encoded string) (PasswordParams, []byte, []byte, error) {
	var params PasswordParams

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return params, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, fmt.Errorf("%w: version %q", ErrMalformedHash, fields[2])
	}

	_, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Iterations, &params.Parallelism)
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: %w", ErrMalformedHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: salt: %w", ErrMalformedHash, err)
	}

	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: key: %w", ErrMalformedHash, err)
	}

	//nolint:gosec // G115: lengths are tiny
	params.SaltLength, params.KeyLength = uint32(len(salt)), uint32(len(key))

	return params, salt, key, nil
}

// NewRefreshToken returns 32 random bytes, url-safe encoded. Only its
// HashToken digest is persisted.
func NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
