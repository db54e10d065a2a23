package minio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		endpoint   string
		useSSL     bool
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{"minio:9000", false, "minio:9000", false, false},
		{"minio:9000", true, "minio:9000", true, false},
		{"http://garage:3900/", true, "garage:3900", false, false},
		{"https://s3.example.com", false, "s3.example.com", true, false},
		{"ftp://host", false, "", false, true},
		{"  ", false, "", false, true},
	}

	for _, tt := range tests {
		host, secure, err := splitEndpoint(tt.endpoint, tt.useSSL)
		if tt.wantErr {
			if err == nil {
				t.Errorf("splitEndpoint(%q) expected error", tt.endpoint)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitEndpoint(%q) error = %v", tt.endpoint, err)
			continue
		}
		if host != tt.wantHost || secure != tt.wantSecure {
			t.Errorf("splitEndpoint(%q) = %s, %v; want %s, %v", tt.endpoint, host, secure, tt.wantHost, tt.wantSecure)
		}
	}
}

func TestClassify(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	if !errors.Is(classify(notFound), ErrObjectNotFound) {
		t.Errorf("NoSuchKey should classify as ErrObjectNotFound")
	}

	denied := minio.ErrorResponse{Code: "AccessDenied"}
	if errors.Is(classify(denied), ErrObjectNotFound) {
		t.Errorf("AccessDenied must not classify as ErrObjectNotFound")
	}
}

func TestInitMinIOClientRejectsEmptyEndpoint(t *testing.T) {
	if _, err := InitMinIOClient(Config{}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestListReturnsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied.</Message></Error>`))
	}))
	defer srv.Close()

	client, err := InitMinIOClient(Config{Endpoint: srv.URL, Region: "us-east-1", AccessKey: "k", SecretKey: "s"})
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(client, "documents")

	if _, err := store.List(context.Background(), "doc-"); err == nil {
		t.Fatal("List() expected error")
	}
	n, err := store.DeletePrefix(context.Background(), "doc-")
	if err == nil || n != 0 {
		t.Errorf("DeletePrefix() = %d, %v; want 0 and an error", n, err)
	}
}
