// Package backfill selects intake files that never finished processing and
// requeues them, most recent first.
package backfill

import (
	"context"
	"log"
	"sort"
	"time"
)

// Record is one intake file and its processing state.
type Record struct {
	Filename  string
	Origin    string
	ModTime   time.Time
	SizeBytes int64
	Status    string
	UpdatedAt time.Time
}

// Status values considered by the selection logic. Processed files are
// excluded; everything else is fair game for a retry.
const (
	StatusProcessed = "processed"
	StatusSeen      = "seen"
	StatusSkipped   = "skipped"
	StatusError     = "error"
)

// Summary captures backfill execution metrics.
type Summary struct {
	TotalCandidates  int `json:"total"`
	AlreadyProcessed int `json:"already_processed"`
	Unprocessed      int `json:"unprocessed"`
	Selected         int `json:"selected"`
	Enqueued         int `json:"enqueued"`
	DroppedFull      int `json:"dropped_full"`
}

// EnqueueResult captures the queueing outcome for one record.
type EnqueueResult struct {
	Enqueued    bool
	DroppedFull bool
}

// Repository describes the data source and sink for a backfill pass.
type Repository interface {
	ListCandidates(ctx context.Context) ([]Record, error)
	QueueRecord(ctx context.Context, rec Record) (EnqueueResult, error)
	OnBackfillComplete(summary Summary)
}

// SelectPending returns up to limit records sorted by recency whose status is
// not processed, along with a summary of the candidate set.
func SelectPending(records []Record, limit int) ([]Record, Summary) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ModTime.After(records[j].ModTime)
	})

	summary := Summary{TotalCandidates: len(records)}
	unprocessed := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Status == StatusProcessed {
			summary.AlreadyProcessed++
			continue
		}
		unprocessed = append(unprocessed, r)
	}

	summary.Unprocessed = len(unprocessed)
	if limit < summary.Unprocessed {
		unprocessed = unprocessed[:limit]
	}
	summary.Selected = len(unprocessed)
	return unprocessed, summary
}

// Run executes the backfill asynchronously.
func Run(ctx context.Context, repo Repository, limit int) {
	go func() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		records, err := repo.ListCandidates(ctx)
		if err != nil {
			log.Printf("backfill list failed: %v", err)
			return
		}

		selected, summary := SelectPending(records, limit)
		for _, rec := range selected {
			result, err := repo.QueueRecord(ctx, rec)
			if err != nil {
				log.Printf("backfill enqueue %s: %v", rec.Filename, err)
				continue
			}
			if result.Enqueued {
				summary.Enqueued++
			}
			if result.DroppedFull {
				summary.DroppedFull++
			}
		}

		log.Printf("backfill summary: total=%d unprocessed=%d selected=%d enqueued=%d dropped_full=%d already_processed=%d",
			summary.TotalCandidates, summary.Unprocessed, summary.Selected, summary.Enqueued, summary.DroppedFull, summary.AlreadyProcessed)
		repo.OnBackfillComplete(summary)
	}()
}
