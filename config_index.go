package canarystore

import (
	"context"
	"slices"
	"sort"
)

// IndexAction is the kind of change a pending update announces
type IndexAction string

const (
	IndexUpdate IndexAction = "UPDATE"
	IndexDelete IndexAction = "DELETE"
)

// PendingUpdate is the marker recorded in the config index before a canary config
// is physically written or deleted. Until it is finished or removed, readers of the
// index know a change for Summary.ID is in flight.
type PendingUpdate struct {
	Timestamp     int64         `json:"timestamp"`
	Action        IndexAction   `json:"action"`
	CorrelationID string        `json:"correlationId"`
	Summary       ObjectSummary `json:"summary"`
}

// ConfigIndex is the per-account catalogue of canary config summaries used for fast
// listing and name-uniqueness checks. Every method is scoped by storage account name.
type ConfigIndex interface {
	// CurrentTime is the index clock in epoch millis. Pending update timestamps come from here
	// so that all writers share one clock.
	CurrentTime(ctx context.Context) (int64, error)

	StartPendingUpdate(ctx context.Context, account string, update PendingUpdate) error

	// FinishPendingUpdate applies the pending update recorded under correlationID to the
	// committed view. An unknown correlation id fails with ErrNotFound.
	FinishPendingUpdate(ctx context.Context, account string, action IndexAction, correlationID string) error

	// RemoveFailedPendingUpdate drops the marker without touching the committed view.
	// Removing a marker that is already gone is not an error.
	RemoveFailedPendingUpdate(ctx context.Context, account string, update PendingUpdate) error

	// IDForName returns the id holding name within any of applications, or "" when the
	// name is free. In-flight updates are consulted before committed entries.
	IDForName(ctx context.Context, account, name string, applications []string) (string, error)

	// SummaryForID returns the committed summary for id or ErrNotFound.
	SummaryForID(ctx context.Context, account, id string) (*ObjectSummary, error)

	// SummarySet returns committed summaries whose applications intersect applications,
	// or all of them when applications is empty.
	SummarySet(ctx context.Context, account string, applications []string) ([]ObjectSummary, error)
}

// ConfigIndexMaintenance is implemented by indexes that can be rebuilt from storage.
type ConfigIndexMaintenance interface {
	// ReplaceCommitted swaps the committed view of account for summaries.
	ReplaceCommitted(ctx context.Context, account string, summaries []ObjectSummary) error

	// PendingUpdates returns every unfinished marker of account, oldest first.
	PendingUpdates(ctx context.Context, account string) ([]PendingUpdate, error)

	// DropPending removes markers with a timestamp before olderThan and returns how many went.
	DropPending(ctx context.Context, account string, olderThan int64) (int, error)
}

// appsOverlap reports whether the two application lists share a member.
// An empty filter matches everything.
func appsOverlap(filter, applications []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, app := range filter {
		if slices.Contains(applications, app) {
			return true
		}
	}
	return false
}

// sortSummaries orders summaries by name, then id
func sortSummaries(summaries []ObjectSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Name != summaries[j].Name {
			return summaries[i].Name < summaries[j].Name
		}
		return summaries[i].ID < summaries[j].ID
	})
}

// inflightIDForName finds an unfinished UPDATE claiming name, newest first.
func inflightIDForName(pending []PendingUpdate, name string, applications []string) string {
	sort.Slice(pending, func(i, j int) bool { return pending[i].Timestamp > pending[j].Timestamp })
	for _, p := range pending {
		if p.Action == IndexUpdate && p.Summary.Name == name && appsOverlap(applications, p.Summary.Applications) {
			return p.Summary.ID
		}
	}
	return ""
}

// committedIDForName finds a committed entry holding name
func committedIDForName(summaries []ObjectSummary, name string, applications []string) string {
	sortSummaries(summaries)
	for _, s := range summaries {
		if s.Name == name && appsOverlap(applications, s.Applications) {
			return s.ID
		}
	}
	return ""
}

func unknownPendingUpdate(account, correlationID string) error {
	return WithContext(ErrNotFound, map[string]interface{}{
		"account":       account,
		"correlationId": correlationID,
		"reason":        "no pending update with this correlation id",
	})
}
