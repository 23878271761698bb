// Package storage keeps agreement attachments on the local filesystem and
// issues short-lived signed download URLs.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or expired download token")

type Store struct {
	// Bucket is the root directory for attachment objects.
	Bucket string
	// Secret signs download tokens.
	Secret string
	// TTL bounds the lifetime of a signed URL.
	TTL time.Duration
	Now func() time.Time
}

func (s Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s Store) ttl() time.Duration {
	if s.TTL <= 0 {
		return time.Hour
	}
	return s.TTL
}

// ObjectKey builds the storage path for a new upload. The uploader and
// agreement segments keep objects browsable; the random segment prevents
// collisions between same-named files.
func ObjectKey(uploaderID, agreementID, fileName string) string {
	ext := strings.TrimPrefix(path.Ext(fileName), ".")
	name := uuid.New().String()
	if ext != "" {
		name += "." + ext
	}
	return path.Join(uploaderID, agreementID, name)
}

// Save writes the object under its key, creating parent directories as needed.
func (s Store) Save(key string, r io.Reader) (int64, error) {
	full, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(full)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}

// Open returns a reader for the stored object.
func (s Store) Open(key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Delete removes the stored object. Missing objects are not an error.
func (s Store) Delete(key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s Store) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("empty storage key")
	}
	return filepath.Join(s.Bucket, filepath.FromSlash(clean)), nil
}

// SignKey mints a download token bound to one object key.
func (s Store) SignKey(key string) (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl())),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.Secret))
}

// VerifyToken checks a download token and returns the object key it grants.
func (s Store) VerifyToken(token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
