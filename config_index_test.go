package canarystore

import (
	"context"
	"slices"
	"testing"
)

// runConfigIndexContract checks behaviour every ConfigIndex implementation shares
func runConfigIndexContract(t *testing.T, newIndex func(t *testing.T) MaintainableConfigIndex) {
	ctx := context.Background()

	pendingFor := func(id, name string, ts int64, action IndexAction, apps ...string) PendingUpdate {
		return PendingUpdate{
			Timestamp:     ts,
			Action:        action,
			CorrelationID: NewID(),
			Summary:       ObjectSummary{ID: id, Name: name, UpdatedTimestamp: ts, Applications: apps},
		}
	}

	t.Run("pending update is visible to name lookups only", func(t *testing.T) {
		index := newIndex(t)
		update := pendingFor("c1", "latency", 10, IndexUpdate, "checkout")
		if err := index.StartPendingUpdate(ctx, "acct", update); err != nil {
			t.Fatalf("StartPendingUpdate failed: %v", err)
		}

		id, err := index.IDForName(ctx, "acct", "latency", []string{"checkout"})
		if err != nil || id != "c1" {
			t.Errorf("IDForName = %q, %v; want in-flight c1", id, err)
		}
		if _, err := index.SummaryForID(ctx, "acct", "c1"); !IsNotFound(err) {
			t.Errorf("uncommitted id should not be found, got %v", err)
		}
		set, err := index.SummarySet(ctx, "acct", nil)
		if err != nil || len(set) != 0 {
			t.Errorf("SummarySet = %v, %v; want empty", set, err)
		}
	})

	t.Run("finish commits and clears the marker", func(t *testing.T) {
		index := newIndex(t)
		update := pendingFor("c1", "latency", 10, IndexUpdate, "checkout")
		if err := index.StartPendingUpdate(ctx, "acct", update); err != nil {
			t.Fatalf("StartPendingUpdate failed: %v", err)
		}
		if err := index.FinishPendingUpdate(ctx, "acct", IndexUpdate, update.CorrelationID); err != nil {
			t.Fatalf("FinishPendingUpdate failed: %v", err)
		}

		summary, err := index.SummaryForID(ctx, "acct", "c1")
		if err != nil {
			t.Fatalf("SummaryForID failed: %v", err)
		}
		if summary.Name != "latency" || !slices.Equal(summary.Applications, []string{"checkout"}) {
			t.Errorf("unexpected summary: %+v", summary)
		}
		pending, err := index.PendingUpdates(ctx, "acct")
		if err != nil || len(pending) != 0 {
			t.Errorf("PendingUpdates = %v, %v; want empty", pending, err)
		}
	})

	t.Run("finish of unknown or mismatched marker fails", func(t *testing.T) {
		index := newIndex(t)
		if err := index.FinishPendingUpdate(ctx, "acct", IndexUpdate, "nope"); !IsNotFound(err) {
			t.Errorf("expected ErrNotFound for unknown correlation id, got %v", err)
		}

		update := pendingFor("c1", "latency", 10, IndexUpdate, "checkout")
		if err := index.StartPendingUpdate(ctx, "acct", update); err != nil {
			t.Fatalf("StartPendingUpdate failed: %v", err)
		}
		if err := index.FinishPendingUpdate(ctx, "acct", IndexDelete, update.CorrelationID); !IsNotFound(err) {
			t.Errorf("expected ErrNotFound for action mismatch, got %v", err)
		}
	})

	t.Run("remove drops the marker and is idempotent", func(t *testing.T) {
		index := newIndex(t)
		committed := pendingFor("c1", "latency", 10, IndexUpdate, "checkout")
		if err := index.StartPendingUpdate(ctx, "acct", committed); err != nil {
			t.Fatalf("StartPendingUpdate failed: %v", err)
		}
		if err := index.FinishPendingUpdate(ctx, "acct", IndexUpdate, committed.CorrelationID); err != nil {
			t.Fatalf("FinishPendingUpdate failed: %v", err)
		}

		failed := pendingFor("c1", "renamed", 20, IndexUpdate, "checkout")
		if err := index.StartPendingUpdate(ctx, "acct", failed); err != nil {
			t.Fatalf("StartPendingUpdate failed: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := index.RemoveFailedPendingUpdate(ctx, "acct", failed); err != nil {
				t.Fatalf("RemoveFailedPendingUpdate #%d failed: %v", i+1, err)
			}
		}

		if id, _ := index.IDForName(ctx, "acct", "renamed", []string{"checkout"}); id != "" {
			t.Errorf("removed marker still claims its name for %q", id)
		}
		summary, err := index.SummaryForID(ctx, "acct", "c1")
		if err != nil || summary.Name != "latency" {
			t.Errorf("committed entry should be untouched, got %+v, %v", summary, err)
		}
	})

	t.Run("delete removes the committed entry", func(t *testing.T) {
		index := newIndex(t)
		create := pendingFor("c1", "latency", 10, IndexUpdate, "checkout")
		remove := pendingFor("c1", "latency", 20, IndexDelete, "checkout")
		for _, step := range []PendingUpdate{create, remove} {
			if err := index.StartPendingUpdate(ctx, "acct", step); err != nil {
				t.Fatalf("StartPendingUpdate failed: %v", err)
			}
			if err := index.FinishPendingUpdate(ctx, "acct", step.Action, step.CorrelationID); err != nil {
				t.Fatalf("FinishPendingUpdate failed: %v", err)
			}
		}

		if _, err := index.SummaryForID(ctx, "acct", "c1"); !IsNotFound(err) {
			t.Errorf("expected deleted id to be gone, got %v", err)
		}
		if id, _ := index.IDForName(ctx, "acct", "latency", nil); id != "" {
			t.Errorf("deleted name still held by %q", id)
		}
	})

	t.Run("summary set filters by application and sorts by name", func(t *testing.T) {
		index := newIndex(t)
		err := index.ReplaceCommitted(ctx, "acct", []ObjectSummary{
			{ID: "c3", Name: "gamma", Applications: []string{"search"}},
			{ID: "c1", Name: "alpha", Applications: []string{"checkout"}},
			{ID: "c2", Name: "beta", Applications: []string{"checkout", "search"}},
		})
		if err != nil {
			t.Fatalf("ReplaceCommitted failed: %v", err)
		}

		names := func(set []ObjectSummary) []string {
			var out []string
			for _, s := range set {
				out = append(out, s.Name)
			}
			return out
		}

		all, err := index.SummarySet(ctx, "acct", nil)
		if err != nil {
			t.Fatalf("SummarySet failed: %v", err)
		}
		if !slices.Equal(names(all), []string{"alpha", "beta", "gamma"}) {
			t.Errorf("unexpected order: %v", names(all))
		}

		search, _ := index.SummarySet(ctx, "acct", []string{"search"})
		if !slices.Equal(names(search), []string{"beta", "gamma"}) {
			t.Errorf("unexpected search configs: %v", names(search))
		}

		other, _ := index.SummarySet(ctx, "other", nil)
		if len(other) != 0 {
			t.Errorf("accounts must not share entries, got %v", names(other))
		}
	})

	t.Run("drop pending removes only old markers", func(t *testing.T) {
		index := newIndex(t)
		old := pendingFor("c1", "a", 100, IndexUpdate, "app")
		fresh := pendingFor("c2", "b", 200, IndexUpdate, "app")
		for _, p := range []PendingUpdate{old, fresh} {
			if err := index.StartPendingUpdate(ctx, "acct", p); err != nil {
				t.Fatalf("StartPendingUpdate failed: %v", err)
			}
		}

		dropped, err := index.DropPending(ctx, "acct", 200)
		if err != nil {
			t.Fatalf("DropPending failed: %v", err)
		}
		if dropped != 1 {
			t.Errorf("expected 1 dropped marker, got %d", dropped)
		}
		pending, _ := index.PendingUpdates(ctx, "acct")
		if len(pending) != 1 || pending[0].CorrelationID != fresh.CorrelationID {
			t.Errorf("expected only the fresh marker, got %+v", pending)
		}
	})

	t.Run("clock moves forward", func(t *testing.T) {
		index := newIndex(t)
		first, err := index.CurrentTime(ctx)
		if err != nil {
			t.Fatalf("CurrentTime failed: %v", err)
		}
		second, err := index.CurrentTime(ctx)
		if err != nil {
			t.Fatalf("CurrentTime failed: %v", err)
		}
		if first <= 0 || second < first {
			t.Errorf("clock went from %d to %d", first, second)
		}
	})
}
