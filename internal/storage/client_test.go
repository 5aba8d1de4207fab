package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// newRegionClient pins the region so no bucket-location request is made.
func newRegionClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("k", "s", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("new minio client: %v", err)
	}
	return &Client{minio: mc, bucket: "imagery-jobs"}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestPresignedPutURLIsLocal(t *testing.T) {
	c := newRegionClient(t, "localhost:9000")

	raw, err := c.PresignedPutURL(context.Background(), "uploads/job-1/source", 5*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Path != "/imagery-jobs/uploads/job-1/source" {
		t.Fatalf("unexpected presigned path %s", u.Path)
	}
	if u.Query().Get("X-Amz-Expires") != "300" {
		t.Fatalf("expected 300s expiry, got %s", u.Query().Get("X-Amz-Expires"))
	}
}

func TestObjectExistsTreatsMissingKeyAsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/present") {
			w.Header().Set("Content-Length", "3")
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			w.Header().Set("ETag", `"abc"`)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newRegionClient(t, strings.TrimPrefix(srv.URL, "http://"))

	ok, err := c.ObjectExists(context.Background(), "uploads/present")
	if err != nil || !ok {
		t.Fatalf("expected present object, got ok=%v err=%v", ok, err)
	}
	ok, err = c.ObjectExists(context.Background(), "uploads/missing")
	if err != nil || ok {
		t.Fatalf("expected missing object, got ok=%v err=%v", ok, err)
	}
}
