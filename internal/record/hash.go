package record

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// DomainBatch separates batch hashes from any other use of SHA-256 over
// the same bytes.
const DomainBatch = "stowaway/batch/v1"

func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BatchKey returns a content hash over the ids of the entries in a batch.
// A batch retried verbatim after a failure has the same key, so the remote
// can use it as an idempotency key.
func BatchKey(entries []QueueEntry) string {
	parts := make([][]byte, len(entries))
	for i, e := range entries {
		parts[i] = []byte(e.ID)
	}
	return hashWithDomain(DomainBatch, parts...)
}

type batchKeyCtx struct{}

// WithBatchKey attaches a batch idempotency key to ctx for the remote call.
func WithBatchKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, batchKeyCtx{}, key)
}

// BatchKeyFrom returns the batch key attached by WithBatchKey, if any.
func BatchKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(batchKeyCtx{}).(string)
	return key, ok && key != ""
}
