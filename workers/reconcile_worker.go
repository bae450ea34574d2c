// workers/reconcile_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"ranked-match-system/services"
)

// ActiveTracker answers whether the orchestrator still holds in-memory state
// for a match id. Implemented by the aggregate of the verification and live
// match services.
type ActiveTracker interface {
	Active(matchID string) bool
}

// MatchReconcileWorker periodically cross-checks durable records marked active
// against the in-memory trackers and cancels orphans — records whose in-memory
// state was lost (crash, dropped hand-off) and that can never progress.
type MatchReconcileWorker struct {
	store    services.Store
	tracker  ActiveTracker
	interval time.Duration
	grace    time.Duration
}

func NewMatchReconcileWorker(store services.Store, tracker ActiveTracker) *MatchReconcileWorker {
	return &MatchReconcileWorker{
		store:    store,
		tracker:  tracker,
		interval: 1 * time.Minute,
		grace:    2 * time.Minute,
	}
}

func (w *MatchReconcileWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Match Reconcile Worker (durable store ↔ in-memory state)…")
	go w.run(ctx)
}

func (w *MatchReconcileWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.sweep(); err != nil {
				log.Printf("❌ Reconcile sweep failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("Match Reconcile Worker stopped")
			return
		}
	}
}

// sweep cancels active-status records older than the grace period that no
// in-memory tracker knows about. Records still tracked are never touched.
func (w *MatchReconcileWorker) sweep() error {
	cutoff := time.Now().Add(-w.grace)
	ids, err := w.store.ListStaleActiveMatchIDs(cutoff)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if w.tracker.Active(id) {
			continue
		}
		if err := w.store.CancelMatchRecord(id, "reconciled", nil); err != nil {
			log.Printf("⚠️ Failed to reconcile match %s: %v", id, err)
			continue
		}
		log.Printf("🧹 Reconciled orphaned match record %s", id)
	}
	return nil
}
