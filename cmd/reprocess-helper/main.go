// reprocess-helper scans the intake dir for sensor files the service has not
// finished processing and asks the running service to process them. Run it
// from cron or by hand after an outage.
package main

import (
	"database/sql"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hydroqc/internal/config"
	"hydroqc/qc"
)

type fileStatus struct {
	Status    string
	UpdatedAt time.Time
}

type summary struct {
	Processed int
	InFlight  int
	Errors    int
	New       int
	Stale     int
}

const (
	statusProcessed = "processed"
	statusSeen      = "seen"
	statusError     = "error"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	files, err := listSensorFiles(cfg.IntakeDir)
	if err != nil {
		log.Fatalf("scan intake dir: %v", err)
	}
	if len(files) == 0 {
		log.Println("no sensor files found")
		return
	}

	statuses, err := loadStatuses(cfg.DBPath)
	if err != nil {
		log.Fatalf("load statuses: %v", err)
	}

	pending, sum := filterPending(files, statuses, 3*time.Hour)
	log.Printf("found %d files: processed=%d in_flight=%d errors=%d new=%d stale=%d",
		len(files), sum.Processed, sum.InFlight, sum.Errors, sum.New, sum.Stale)
	if len(pending) == 0 {
		return
	}

	baseURL := normalizeBaseURL(os.Getenv("SERVICE_BASE_URL"), cfg.HTTPPort)
	log.Printf("requesting processing run from %s for %d pending files", baseURL, len(pending))

	resp, err := http.Post(baseURL+"/ops/process", "application/json", nil)
	if err != nil {
		log.Fatalf("trigger run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("trigger run: %s", resp.Status)
	}
	log.Println("processing run queued")
}

func listSensorFiles(dir string) ([]string, error) {
	paths, err := qc.ListRawFiles(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	return names, nil
}

func loadStatuses(dbPath string) (map[string]fileStatus, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	statuses := make(map[string]fileStatus)
	rows, err := db.Query(`SELECT filename, status, updated_at FROM files`)
	if err != nil {
		// Fresh deployment without a database yet: everything is new.
		return statuses, nil
	}
	defer rows.Close()
	for rows.Next() {
		var name, status string
		var updated time.Time
		if err := rows.Scan(&name, &status, &updated); err == nil {
			statuses[name] = fileStatus{Status: status, UpdatedAt: updated}
		}
	}
	return statuses, nil
}

// filterPending keeps files that are new, errored, or stuck in flight longer
// than staleAfter (0 disables the stale check).
func filterPending(files []string, statuses map[string]fileStatus, staleAfter time.Duration) ([]string, summary) {
	var pending []string
	var sum summary
	for _, f := range files {
		st, known := statuses[f]
		switch {
		case !known:
			sum.New++
			pending = append(pending, f)
		case st.Status == statusProcessed:
			sum.Processed++
		case st.Status == statusError:
			sum.Errors++
			pending = append(pending, f)
		default:
			if staleAfter > 0 && time.Since(st.UpdatedAt) > staleAfter {
				sum.Stale++
				pending = append(pending, f)
				continue
			}
			sum.InFlight++
		}
	}
	return pending, sum
}

func normalizeBaseURL(raw, port string) string {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "http://localhost" + port
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	return raw
}
