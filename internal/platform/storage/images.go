package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const defaultImageURLTTL = 15 * time.Minute

var errBucketRequired = errors.New("storage: images bucket is required")

// bucketSigner is satisfied by *storage.BucketHandle.
type bucketSigner interface {
	SignedURL(object string, opts *storage.SignedURLOptions) (string, error)
}

// ImageSigner turns product image object names into short lived V4 signed GET URLs.
type ImageSigner struct {
	client *storage.Client
	bucket bucketSigner
	email  string
	key    []byte
	ttl    time.Duration
	now    func() time.Time
}

// ImageSignerConfig configures NewImageSigner. KeyFile is a service account JSON key; without it
// the client's ambient credentials sign through the IAM credentials API.
type ImageSignerConfig struct {
	Bucket  string
	Email   string
	KeyFile string
	TTL     time.Duration
	Options []option.ClientOption
	Clock   func() time.Time
}

// NewImageSigner opens a storage client for the images bucket.
func NewImageSigner(ctx context.Context, cfg ImageSignerConfig) (*ImageSigner, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errBucketRequired
	}
	client, err := storage.NewClient(ctx, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	signer := newImageSigner(client.Bucket(bucket), cfg)
	signer.client = client
	if strings.TrimSpace(cfg.KeyFile) != "" {
		email, key, err := readServiceAccountKey(cfg.KeyFile)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		signer.key = key
		if signer.email == "" {
			signer.email = email
		}
	}
	return signer, nil
}

func newImageSigner(bucket bucketSigner, cfg ImageSignerConfig) *ImageSigner {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultImageURLTTL
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &ImageSigner{bucket: bucket, email: strings.TrimSpace(cfg.Email), ttl: ttl, now: now}
}

// Close releases the storage client.
func (s *ImageSigner) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ImageURL returns a URL the browser can load. Absolute URLs and site relative paths are
// returned unchanged; anything else is treated as an object name in the images bucket.
func (s *ImageSigner) ImageURL(ctx context.Context, image string) (string, error) {
	image = strings.TrimSpace(image)
	if image == "" || isPublicURL(image) {
		return image, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        s.now().Add(s.ttl),
		GoogleAccessID: s.email,
		PrivateKey:     s.key,
	}
	signed, err := s.bucket.SignedURL(strings.TrimPrefix(image, "gs://"), opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign %s: %w", image, err)
	}
	return signed, nil
}

func isPublicURL(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") || strings.HasPrefix(value, "/")
}

func readServiceAccountKey(path string) (string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("storage: read service account key: %w", err)
	}
	var key struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return "", nil, fmt.Errorf("storage: decode service account key: %w", err)
	}
	if strings.TrimSpace(key.PrivateKey) == "" {
		return "", nil, errors.New("storage: private_key missing in service account key")
	}
	return strings.TrimSpace(key.ClientEmail), []byte(key.PrivateKey), nil
}
