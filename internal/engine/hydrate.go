package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/stowaway/internal/record"
	"github.com/roach88/stowaway/internal/store"
)

// HydrateResult summarizes a Hydrate call.
type HydrateResult struct {
	Fetched int `json:"fetched"`
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"` // records with queued local mutations
}

// Hydrate loads every record from the remote through fetch and stores it
// locally. Records that have queued local mutations are left alone: the local
// version is newer and will overwrite the remote on the next flush.
//
// Hydrate is never called automatically.
func (e *Engine[T]) Hydrate(ctx context.Context, fetch FetchFunc[T]) (HydrateResult, error) {
	var remote []T
	err := e.callRemote(ctx, "", func(ctx context.Context) error {
		var err error
		remote, err = fetch(ctx)
		return err
	})
	if err != nil {
		return HydrateResult{}, fmt.Errorf("hydrate: fetch: %w", err)
	}

	res := HydrateResult{Fetched: len(remote)}
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		dirty, err := tx.QueuedEntities(ctx)
		if err != nil {
			return err
		}
		for _, r := range remote {
			id := r.RecordID()
			if dirty[id] {
				res.Skipped++
				continue
			}
			payload, err := record.Encode(r)
			if err != nil {
				return err
			}
			err = tx.PutRecord(ctx, record.Stored{
				ID:         id,
				Owner:      record.OwnerOf(r),
				ModifiedAt: e.clock.Now(),
				Payload:    payload,
			})
			if err != nil {
				return err
			}
			res.Stored++
		}
		return nil
	})
	if err != nil {
		return HydrateResult{}, fmt.Errorf("hydrate: %w", err)
	}

	slog.Info("hydrated from remote",
		"fetched", res.Fetched,
		"stored", res.Stored,
		"skipped", res.Skipped,
	)
	return res, nil
}
