// Package fetch polls the ColiMinder instrument's web export for new result
// files. The instrument exposes a timestamp probe file next to the CSV; the
// CSV is downloaded twice with a delay and only accepted once both copies
// hash identically, since the instrument appends to the file while sampling.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// State keys persisted between polls.
const (
	stateLastTimestamp = "coliminder_last_timestamp"
	stateLastCSVHash   = "coliminder_last_csv_hash"
)

// StateStore persists the poller's bookkeeping between runs.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Config holds the poller settings for one instrument endpoint.
type Config struct {
	BaseURL           string
	TimestampFilename string
	CSVFilename       string
	Username          string
	Password          string
	DownloadDir       string
	StabilityDelay    time.Duration
	RequestTimeout    time.Duration
	Site              string
}

// Fetcher polls one ColiMinder endpoint.
type Fetcher struct {
	cfg    Config
	client *http.Client
	state  StateStore
}

func New(cfg Config, state StateStore) *Fetcher {
	if cfg.TimestampFilename == "" {
		cfg.TimestampFilename = "timestamp.txt"
	}
	if cfg.StabilityDelay <= 0 {
		cfg.StabilityDelay = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") && cfg.BaseURL != "" {
		cfg.BaseURL += "/"
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		state:  state,
	}
}

// FetchOnce runs one poll cycle. It returns the path of the current download
// (new or already present) or "" when the endpoint reported nothing usable.
func (f *Fetcher) FetchOnce(ctx context.Context) (string, error) {
	if f.cfg.BaseURL == "" {
		return "", fmt.Errorf("fetch: base URL not configured")
	}
	if err := os.MkdirAll(f.cfg.DownloadDir, 0o755); err != nil {
		return "", err
	}

	timestamp, err := f.fetchTimestamp(ctx)
	if err != nil {
		return "", err
	}
	outputPath := filepath.Join(f.cfg.DownloadDir, f.outputFilename(timestamp))

	lastTS, _ := f.state.GetState(ctx, stateLastTimestamp)
	if lastTS == strconv.FormatInt(timestamp, 10) {
		if _, err := os.Stat(outputPath); err == nil {
			log.Printf("fetch no update timestamp=%d", timestamp)
			return outputPath, nil
		}
	}
	log.Printf("fetch update detected timestamp=%d utc=%s",
		timestamp, time.Unix(timestamp, 0).UTC().Format("02/01/2006 15:04:05"))

	first, err := f.downloadCSV(ctx)
	if err != nil {
		return "", err
	}
	firstHash := sha256Hex(first)
	log.Printf("fetch first download bytes=%d hash=%s", len(first), firstHash[:12])

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(f.cfg.StabilityDelay):
	}

	second, err := f.downloadCSV(ctx)
	if err != nil {
		return "", err
	}
	secondHash := sha256Hex(second)
	log.Printf("fetch second download bytes=%d hash=%s", len(second), secondHash[:12])
	if firstHash != secondHash {
		log.Printf("fetch hashes differ between downloads, keeping the later copy")
	}

	lastHash, _ := f.state.GetState(ctx, stateLastCSVHash)
	if lastHash == secondHash {
		if _, err := os.Stat(outputPath); err != nil {
			if err := os.WriteFile(outputPath, second, 0o644); err != nil {
				return "", err
			}
		} else {
			log.Printf("fetch content unchanged, skipping save")
		}
	} else {
		if err := os.WriteFile(outputPath, second, 0o644); err != nil {
			return "", err
		}
		log.Printf("fetch saved file=%s hash=%s", filepath.Base(outputPath), secondHash[:12])
	}

	if err := f.state.SetState(ctx, stateLastTimestamp, strconv.FormatInt(timestamp, 10)); err != nil {
		return "", err
	}
	if err := f.state.SetState(ctx, stateLastCSVHash, secondHash); err != nil {
		return "", err
	}
	return outputPath, nil
}

// outputFilename keeps "coliminder" in the saved name so the QC engine can
// detect the origin from the filename alone.
func (f *Fetcher) outputFilename(timestamp int64) string {
	name := f.cfg.CSVFilename
	site := strings.ToLower(f.cfg.Site)
	if site == "" {
		site = "coliminder"
	}
	if !strings.Contains(strings.ToLower(name), "coliminder") {
		return fmt.Sprintf("raw_data_ColiMinder_%s_%d.csv", site, timestamp)
	}
	if f.cfg.Site != "" {
		ext := filepath.Ext(name)
		return strings.TrimSuffix(name, ext) + "_" + site + ext
	}
	return name
}

func (f *Fetcher) fetchTimestamp(ctx context.Context) (int64, error) {
	body, err := f.get(ctx, f.cfg.TimestampFilename)
	if err != nil {
		return 0, fmt.Errorf("fetch timestamp: %w", err)
	}
	text := strings.TrimSpace(string(body))
	ts, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fetch timestamp: not an integer: %q", text)
	}
	return ts, nil
}

func (f *Fetcher) downloadCSV(ctx context.Context) ([]byte, error) {
	body, err := f.get(ctx, f.cfg.CSVFilename)
	if err != nil {
		return nil, fmt.Errorf("fetch csv: %w", err)
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, name string) ([]byte, error) {
	base, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(name)
	if err != nil {
		return nil, err
	}
	u := base.ResolveReference(ref).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if f.cfg.Username != "" {
		req.SetBasicAuth(f.cfg.Username, f.cfg.Password)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
