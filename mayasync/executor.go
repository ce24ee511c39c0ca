package mayasync

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
)

// SummaryFragment is the result of one executed window.
type SummaryFragment struct {
	Fetched int `json:"fetched"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// JobSummary accumulates fragments across the window loop and is persisted
// on the job once, on success.
type JobSummary struct {
	Fetched   int    `json:"fetched"`
	Applied   int    `json:"applied"`
	Skipped   int    `json:"skipped"`
	Windows   int    `json:"windows"`
	ElapsedMs int64  `json:"elapsed_ms"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

func (s *JobSummary) add(frag SummaryFragment) {
	s.Fetched += frag.Fetched
	s.Applied += frag.Applied
	s.Skipped += frag.Skipped
	s.Windows++
}

// Executor performs one operation over one window. Window-less operations
// (PUSH_INVENTORY, ANSWER_QUESTION) receive a degenerate window and must
// ignore it. Failures whose root cause is upstream carry a
// *mayamall.APIError for the retry classifier.
type Executor interface {
	Execute(ctx context.Context, job *models.SyncJob, cfg *OperationConfig, window Window) (SummaryFragment, error)
}

// listingExecutor walks one range-bounded listing endpoint page by page.
// It only counts what it sees; the entity-specific executors layer their
// apply step on top of the same pagination.
type listingExecutor struct {
	path string
}

// NewListingExecutor covers the pull kinds that land nothing locally yet
// (claims, Q&A, settlements): records are fetched and counted so the sync
// summary and checkpoints behave identically across all pull kinds.
func NewListingExecutor(path string) Executor {
	return &listingExecutor{path: path}
}

func (e *listingExecutor) Execute(ctx context.Context, job *models.SyncJob, cfg *OperationConfig, window Window) (SummaryFragment, error) {
	frag := SummaryFragment{}
	cursor := ""
	for {
		page, next, err := fetchListPage(ctx, cfg, e.path, window, cursor)
		if err != nil {
			return frag, err
		}
		frag.Fetched += len(page)
		frag.Applied += len(page)
		if next == "" {
			return frag, nil
		}
		cursor = next
	}
}

func fetchListPage(ctx context.Context, cfg *OperationConfig, path string, window Window, cursor string) ([]json.RawMessage, string, error) {
	params := url.Values{}
	params.Set("created_from", window.Start.UTC().Format(time.RFC3339))
	params.Set("created_to", window.End.UTC().Format(time.RFC3339))
	params.Set("limit", "200")
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	resp, err := cfg.Client.GetList(ctx, path, params)
	if err != nil {
		return nil, "", err
	}
	next := resp.NextCursor
	if resp.HasMore != nil && !*resp.HasMore {
		next = ""
	}
	return resp.Data, next, nil
}
