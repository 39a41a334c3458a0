// Package auth checks user credentials for the orchestration service.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnauthorized is returned for unknown users and wrong passwords alike.
var ErrUnauthorized = errors.New("invalid user id or password")

// Verifier decides whether password authenticates userID.
type Verifier interface {
	Verify(ctx context.Context, userID, password string) error
}

// AllowAll accepts every request. It is used when auth is not required.
type AllowAll struct{}

func (AllowAll) Verify(ctx context.Context, userID, password string) error { return nil }

// UsersFile is the YAML document read by FileVerifier:
//
//	users:
//	  alice:
//	    password_sha256: 5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8
type UsersFile struct {
	Users map[string]User `yaml:"users"`
}

type User struct {
	PasswordSHA256 string `yaml:"password_sha256"`
}

// FileVerifier checks passwords against SHA-256 digests loaded once from a
// users file.
type FileVerifier struct {
	digests map[string][]byte
}

// LoadFileVerifier reads and validates the users file at path.
func LoadFileVerifier(path string) (*FileVerifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}
	return ParseUsers(data)
}

// ParseUsers builds a FileVerifier from YAML.
func ParseUsers(data []byte) (*FileVerifier, error) {
	var file UsersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}

	v := &FileVerifier{digests: make(map[string][]byte, len(file.Users))}
	for name, u := range file.Users {
		digest, err := hex.DecodeString(strings.TrimSpace(u.PasswordSHA256))
		if err != nil || len(digest) != sha256.Size {
			return nil, fmt.Errorf("user %q: password_sha256 must be 64 hex characters", name)
		}
		v.digests[name] = digest
	}
	return v, nil
}

func (v *FileVerifier) Verify(ctx context.Context, userID, password string) error {
	sum := sha256.Sum256([]byte(password))
	want, ok := v.digests[userID]
	if !ok {
		// compare anyway so unknown users take as long as known ones
		subtle.ConstantTimeCompare(sum[:], make([]byte, sha256.Size))
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(sum[:], want) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Users lists the configured user ids.
func (v *FileVerifier) Users() []string {
	out := make([]string, 0, len(v.digests))
	for name := range v.digests {
		out = append(out, name)
	}
	return out
}

// HashPassword returns the hex digest stored in the users file.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
