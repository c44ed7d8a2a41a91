package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/security"
)

// LocalStore keeps objects on the local filesystem and issues HMAC-signed
// URLs that the /files route verifies. Used in development and single-node setups.
type LocalStore struct {
	root    string
	baseURL string
	signer  *security.Signer
}

func NewLocalStore(root, baseURL string, signer *security.Signer) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", abs, err)
	}
	log.Infof("[Storage] Local store ready at %s", abs)
	return &LocalStore{root: abs, baseURL: strings.TrimRight(baseURL, "/"), signer: signer}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes to a temp file next to the target and renames it into place,
// so readers never observe a partial object.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return unavailable("mkdir", key, err)
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return unavailable("put", key, err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write: %d of %d bytes", written, size)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return unavailable("put", key, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return unavailable("put", key, err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, missing(key, err)
		}
		return nil, unavailable("get", key, err)
	}
	return f, nil
}

func (s *LocalStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	token, _, err := s.signer.Issue(key, subjectFrom(ctx), ttl)
	if err != nil {
		return "", unavailable("presign", key, err)
	}
	return fmt.Sprintf("%s/files/%s?token=%s", s.baseURL, escapeKey(key), url.QueryEscape(token)), nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return unavailable("delete", key, err)
	}
	return nil
}

func (s *LocalStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	src, err := s.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	defer src.Close()
	return s.Put(ctx, dstKey, src, -1, "")
}

// Open verifies a signed URL token for key and opens the object.
func (s *LocalStore) Open(key, token string) (*os.File, *security.AccessClaims, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, nil, err
	}
	if claims.Key != key {
		return nil, nil, security.ErrInvalidToken
	}
	full, err := s.path(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, missing(key, err)
	}
	return f, claims, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
