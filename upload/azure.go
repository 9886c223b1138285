// Package upload ships pipeline artifacts to Azure Blob Storage. Uploads go
// through the Blob REST API with a SAS token; blobs land under
// <site>/<category>/<filename> inside the configured container.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifact categories mirrored into blob path segments.
const (
	CategoryRaw        = "raw"
	CategoryFlagged    = "flagged"
	CategoryClean      = "clean"
	CategoryColiMinder = "coliminder"
	CategoryCombined   = "combined"
)

// Config identifies the storage account target.
type Config struct {
	AccountName string
	Container   string
	SASToken    string
	Site        string
	// Endpoint overrides the account URL, for tests.
	Endpoint string
}

type Uploader struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Uploader {
	if cfg.Container == "" {
		cfg.Container = "data"
	}
	cfg.SASToken = strings.TrimPrefix(strings.TrimSpace(cfg.SASToken), "?")
	return &Uploader{cfg: cfg, client: &http.Client{Timeout: 2 * time.Minute}}
}

// Enabled reports whether the uploader has a usable target. When false the
// pipeline skips the upload stage rather than failing runs.
func (u *Uploader) Enabled() bool {
	return u.cfg.Endpoint != "" || (u.cfg.AccountName != "" && u.cfg.SASToken != "")
}

// UploadFile puts one file under <site>/<category>/<filename>, overwriting
// any existing blob.
func (u *Uploader) UploadFile(ctx context.Context, path, category string) error {
	if !u.Enabled() {
		return fmt.Errorf("upload: storage account not configured")
	}
	if u.cfg.Site == "" {
		return fmt.Errorf("upload: site not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	blobName := fmt.Sprintf("%s/%s/%s", u.cfg.Site, category, filepath.Base(path))
	if err := u.putBlob(ctx, blobName, data); err != nil {
		return fmt.Errorf("upload %s: %w", blobName, err)
	}
	log.Printf("upload ok container=%s blob=%s bytes=%d", u.cfg.Container, blobName, len(data))
	return nil
}

// UploadAll uploads every file, collecting failures instead of stopping at
// the first. Failed paths are returned so the caller can archive them for a
// retry pass.
func (u *Uploader) UploadAll(ctx context.Context, paths []string, category string) (failed []string) {
	for _, path := range paths {
		if err := u.UploadFile(ctx, path, category); err != nil {
			log.Printf("upload failed file=%s err=%v", filepath.Base(path), err)
			failed = append(failed, path)
		}
	}
	return failed
}

func (u *Uploader) putBlob(ctx context.Context, blobName string, data []byte) error {
	endpoint := u.cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", u.cfg.AccountName)
	}
	blobURL := fmt.Sprintf("%s/%s/%s", endpoint, u.cfg.Container, escapeBlobPath(blobName))
	if u.cfg.SASToken != "" {
		blobURL += "?" + u.cfg.SASToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, blobURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.Header.Set("x-ms-version", "2021-08-06")
	req.Header.Set("Content-Type", "text/csv")
	req.ContentLength = int64(len(data))

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func escapeBlobPath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Archive moves a file into dir, creating it as needed. Used for inputs whose
// upload failed so a later run can retry them.
func Archive(path, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err == nil {
		return dest, nil
	}
	// Cross-device fallback.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, os.Remove(path)
}
