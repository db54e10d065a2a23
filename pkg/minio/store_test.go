package minio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
)

// openTestStore connects to the server named by MINIO_ENDPOINT and skips
// the test when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	bucket := os.Getenv("MINIO_TEST_BUCKET")
	if bucket == "" {
		bucket = "dms-test"
	}

	client, err := InitMinIOClient(Config{
		Endpoint:  endpoint,
		Bucket:    bucket,
		AccessKey: os.Getenv("MINIO_ROOT_USER"),
		SecretKey: os.Getenv("MINIO_ROOT_PASSWORD"),
	})
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := EnsureBucketExists(context.Background(), client, bucket, "", logger); err != nil {
		t.Fatal(err)
	}
	return NewStore(client, bucket)
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	if err := s.Put(ctx, id+".pdf", []byte("%PDF-1.7"), "application/pdf"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, id+".txt", []byte("hello"), "text/plain; charset=utf-8"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, id+".txt")
	if err != nil || string(got) != "hello" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if ok, err := s.Exists(ctx, id+".pdf"); err != nil || !ok {
		t.Errorf("Exists(pdf) = %v, %v", ok, err)
	}

	n, err := s.DeletePrefix(ctx, id)
	if err != nil || n != 2 {
		t.Fatalf("DeletePrefix() = %d, %v", n, err)
	}
	if ok, err := s.Exists(ctx, id+".pdf"); err != nil || ok {
		t.Errorf("Exists after delete = %v, %v", ok, err)
	}
	if _, err := s.Get(ctx, id+".txt"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Get after delete error = %v, want ErrObjectNotFound", err)
	}
}
