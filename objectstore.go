package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioObjectStore uploads report photos to an S3-compatible bucket and
// serves them from a public base URL.
type minioObjectStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func newMinioObjectStore(endpoint, accessKey, secretKey, bucket, publicURL string, useSSL bool) (*minioObjectStore, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("minio object store requires endpoint, access key, secret key and bucket")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	if publicURL == "" {
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, bucket)
	}
	return &minioObjectStore{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// ensureBucket creates the bucket when it does not exist yet. Run at startup.
func (s *minioObjectStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region})
}

func (s *minioObjectStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	key = sanitizeObjectKey(key)
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

// localObjectStore writes uploads under the data root and serves them via the
// app's own /uploads route. Development fallback when MinIO is not
// configured.
type localObjectStore struct {
	dataRoot string
	baseURL  string
}

func newLocalObjectStore(dataRoot, baseURL string) *localObjectStore {
	return &localObjectStore{
		dataRoot: dataRoot,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

func (s *localObjectStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_ = ctx

	key = sanitizeObjectKey(key)
	if key == "" {
		name, err := randomObjectName(extensionFromMime(contentType, ""))
		if err != nil {
			return "", err
		}
		key = "uploads/" + name
	}

	fullPath := filepath.Join(s.dataRoot, "uploads", filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", err
	}
	return s.baseURL + "/uploads/" + key, nil
}

// sanitizeObjectKey normalizes a key into a safe, slash-separated path with
// no traversal segments.
func sanitizeObjectKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, " ", "-")
	parts := strings.Split(key, "/")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ".")
		if part == "" {
			continue
		}
		cleaned = append(cleaned, part)
	}
	return strings.Join(cleaned, "/")
}

func extensionFromMime(mimeType, fallbackName string) string {
	extensions, _ := mime.ExtensionsByType(mimeType)
	if len(extensions) > 0 {
		return extensions[0]
	}
	ext := filepath.Ext(fallbackName)
	if ext == "" {
		return ".jpg"
	}
	return ext
}

func randomObjectName(ext string) (string, error) {
	buffer := make([]byte, 16)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer) + ext, nil
}
