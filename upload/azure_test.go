package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type captured struct {
	method   string
	path     string
	query    string
	blobType string
	body     string
}

func newBlobServer(status int) (*httptest.Server, *[]captured, *sync.Mutex) {
	var mu sync.Mutex
	var reqs []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{
			method:   r.Method,
			path:     r.URL.Path,
			query:    r.URL.RawQuery,
			blobType: r.Header.Get("x-ms-blob-type"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	return srv, &reqs, &mu
}

func TestUploadFile(t *testing.T) {
	srv, reqs, mu := newBlobServer(http.StatusCreated)
	defer srv.Close()

	u := New(Config{Endpoint: srv.URL, SASToken: "?sv=2021&sig=abc", Site: "anne"})
	path := filepath.Join(t.TempDir(), "cleaned_data_Observator_x.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := u.UploadFile(context.Background(), path, CategoryClean); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*reqs))
	}
	got := (*reqs)[0]
	if got.method != http.MethodPut {
		t.Fatalf("expected PUT, got %s", got.method)
	}
	if got.path != "/data/anne/clean/cleaned_data_Observator_x.csv" {
		t.Fatalf("unexpected blob path %q", got.path)
	}
	if got.query != "sv=2021&sig=abc" {
		t.Fatalf("unexpected query %q", got.query)
	}
	if got.blobType != "BlockBlob" {
		t.Fatalf("unexpected blob type %q", got.blobType)
	}
	if got.body != "a,b\n1,2\n" {
		t.Fatalf("unexpected body %q", got.body)
	}
}

func TestUploadFileRejectsNon201(t *testing.T) {
	srv, _, _ := newBlobServer(http.StatusForbidden)
	defer srv.Close()

	u := New(Config{Endpoint: srv.URL, Site: "anne"})
	path := filepath.Join(t.TempDir(), "x.csv")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := u.UploadFile(context.Background(), path, CategoryRaw); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestUploadAllCollectsFailures(t *testing.T) {
	srv, _, _ := newBlobServer(http.StatusCreated)
	defer srv.Close()

	u := New(Config{Endpoint: srv.URL, Site: "anne"})
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.csv")
	if err := os.WriteFile(ok, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.csv")

	failed := u.UploadAll(context.Background(), []string{ok, missing}, CategoryFlagged)
	if len(failed) != 1 || failed[0] != missing {
		t.Fatalf("unexpected failures %v", failed)
	}
}

func TestEnabled(t *testing.T) {
	if New(Config{}).Enabled() {
		t.Fatal("empty config must be disabled")
	}
	if !New(Config{AccountName: "acct", SASToken: "sig"}).Enabled() {
		t.Fatal("account + token must be enabled")
	}
	if !New(Config{Endpoint: "http://localhost"}).Enabled() {
		t.Fatal("endpoint override must be enabled")
	}
}

func TestArchiveMovesFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data_Observator_a.csv")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(t.TempDir(), "archive")

	dest, err := Archive(src, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source still present: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "x" {
		t.Fatalf("archived copy wrong: %q %v", data, err)
	}
}
