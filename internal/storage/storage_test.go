package storage_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lessongate/lessongate/internal/storage"
)

func newStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(context.Background(), storage.Config{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "https://media.example.com",
		Bucket:         "lessons",
		AccessKey:      "test",
		SecretKey:      "test",
		URLExpiry:      10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("expected no error creating storage client, got: %v", err)
	}
	return s
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := storage.New(context.Background(), storage.Config{Endpoint: "http://localhost:9000"})
	if !errors.Is(err, storage.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestVideoURLIsPresignedOnPublicEndpoint(t *testing.T) {
	s := newStorage(t)

	raw, err := s.VideoURL(context.Background(), "programs/p1/intro.mp4")
	if err != nil {
		t.Fatalf("VideoURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "media.example.com" {
		t.Errorf("host = %q, want public endpoint", u.Host)
	}
	if u.Path != "/lessons/programs/p1/intro.mp4" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("X-Amz-Expires") != "600" {
		t.Errorf("X-Amz-Expires = %q, want 600", q.Get("X-Amz-Expires"))
	}
	if q.Get("X-Amz-Signature") == "" {
		t.Error("missing signature")
	}
	if q.Get("response-content-type") != "video/mp4" {
		t.Errorf("response-content-type = %q", q.Get("response-content-type"))
	}
}

func TestVideoURLRejectsTraversal(t *testing.T) {
	s := newStorage(t)
	if _, err := s.VideoURL(context.Background(), "../secrets/key.mp4"); err == nil {
		t.Fatal("expected error for traversal key")
	}
}

func TestNilStorage(t *testing.T) {
	var s *storage.Storage
	if _, err := s.VideoURL(context.Background(), "a.mp4"); !errors.Is(err, storage.ErrNotConfigured) {
		t.Errorf("VideoURL on nil storage: %v", err)
	}
	if err := s.EnsureBucket(context.Background()); !errors.Is(err, storage.ErrNotConfigured) {
		t.Errorf("EnsureBucket on nil storage: %v", err)
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a/b.mp4", "a/b.mp4", false},
		{"/a//b.mp4", "a/b.mp4", false},
		{"  a.mp4 ", "a.mp4", false},
		{"", "", true},
		{"/", "", true},
		{"a/../../b.mp4", "", true},
	}
	for _, tt := range tests {
		got, err := storage.CleanKey(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CleanKey(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CleanKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"x.MP4":        "video/mp4",
		"x.webm":       "video/webm",
		"hls/main.m3u8": "application/vnd.apple.mpegurl",
		"dash/m.mpd":   "application/dash+xml",
		"x.bin":        "application/octet-stream",
	}
	for key, want := range tests {
		if got := storage.ContentTypeFor(key); !strings.EqualFold(got, want) {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", key, got, want)
		}
	}
}
