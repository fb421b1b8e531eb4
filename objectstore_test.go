package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeObjectKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"reports/1693300000_abc_photo.jpg", "reports/1693300000_abc_photo.jpg"},
		{"Reports/My Photo.JPG", "reports/my-photo.jpg"},
		{"../../etc/passwd", "etc/passwd"},
		{"reports//double//slash.png", "reports/double/slash.png"},
		{"  ", ""},
	}
	for _, tc := range cases {
		if got := sanitizeObjectKey(tc.in); got != tc.want {
			t.Errorf("sanitizeObjectKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLocalObjectStoreUpload(t *testing.T) {
	root := t.TempDir()
	store := newLocalObjectStore(root, "http://localhost:8080/")

	url, err := store.Upload(context.Background(), "reports/123_abc_pile.jpg", "image/jpeg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "http://localhost:8080/uploads/reports/123_abc_pile.jpg" {
		t.Errorf("url = %s", url)
	}

	written, err := os.ReadFile(filepath.Join(root, "uploads", "reports", "123_abc_pile.jpg"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(written) != "jpeg-bytes" {
		t.Errorf("file content = %q", written)
	}
}

func TestLocalObjectStoreRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	store := newLocalObjectStore(root, "http://localhost:8080")

	url, err := store.Upload(context.Background(), "../outside.jpg", "image/jpeg", []byte("x"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !strings.Contains(url, "/uploads/") {
		t.Errorf("url = %s", url)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside.jpg")); err == nil {
		t.Error("upload escaped the data root")
	}
}

func TestExtensionFromMime(t *testing.T) {
	if got := extensionFromMime("image/png", ""); got != ".png" {
		t.Errorf("extensionFromMime(image/png) = %q", got)
	}
	if got := extensionFromMime("application/unknown", "photo.jpeg"); got != ".jpeg" {
		t.Errorf("fallback extension = %q", got)
	}
	if got := extensionFromMime("application/unknown", ""); got != ".jpg" {
		t.Errorf("default extension = %q", got)
	}
}
