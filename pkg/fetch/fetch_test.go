package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/ippclub/better-ept/internal/model"
	"github.com/klauspost/compress/gzip"
)

var testPkg = model.Package{Name: "libfoo", Version: "1.2.0", Author: "alice", Types: "lib"}

func TestGetSuccess(t *testing.T) {
	payload := []byte("7z\xbc\xaf\x27\x1c archive")

	var gotPath, gotAgent, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Write(payload)
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), testPkg, srv.URL+"/pkgs/")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if gotPath != "/pkgs/lib/libfoo_1.2.0_alice.7z" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAgent != UserAgent {
		t.Errorf("User-Agent = %q", gotAgent)
	}
	if gotEncoding != acceptEncoding {
		t.Errorf("Accept-Encoding = %q", gotEncoding)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("body = %q", body)
	}
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Mirror", "test")
		http.Error(w, "no such package", http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), testPkg, srv.URL+"/")
	if resp != nil {
		t.Errorf("expected nil response on failure")
	}

	var ne *model.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("error = %v, want *model.NetworkError", err)
	}
	defer ne.Response.Body.Close()

	if ne.Response.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", ne.Response.StatusCode)
	}
	if ne.Response.Header.Get("X-Mirror") != "test" {
		t.Error("expected response headers to be kept")
	}
	body, _ := io.ReadAll(ne.Response.Body)
	if !bytes.Contains(body, []byte("no such package")) {
		t.Errorf("body = %q", body)
	}
}

func TestGetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Get(context.Background(), testPkg, srv.URL)
	var ne *model.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("error = %v, want *model.NetworkError", err)
	}
	ne.Response.Body.Close()
	if ne.Response.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", ne.Response.StatusCode)
	}
}

func TestGetDecodesGzip(t *testing.T) {
	payload := bytes.Repeat([]byte("gzip payload "), 64)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write(payload)
		zw.Close()
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), testPkg, srv.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("decoded body mismatch, got %d bytes", len(body))
	}
	if resp.Header.Get("Content-Encoding") != "" {
		t.Error("expected Content-Encoding to be removed")
	}
	if !resp.Uncompressed {
		t.Error("expected Uncompressed to be set")
	}
}

func TestGetDecodesBrotli(t *testing.T) {
	payload := bytes.Repeat([]byte("brotli payload "), 64)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		bw.Write(payload)
		bw.Close()
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), testPkg, srv.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("decoded body mismatch, got %d bytes", len(body))
	}
}

func TestGetEmptyGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), testPkg, srv.URL)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestGetInvalidBaseURL(t *testing.T) {
	_, err := Get(context.Background(), testPkg, "not a url")
	var ue *model.URLError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *model.URLError", err)
	}
}

func TestGetTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := Get(context.Background(), testPkg, base)
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	var ne *model.NetworkError
	var ue *model.URLError
	if errors.As(err, &ne) || errors.As(err, &ue) {
		t.Errorf("transport failure classified as %T", err)
	}
}

func TestGetCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Get(ctx, testPkg, srv.URL)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
