package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncBatchFailedError(t *testing.T) {
	err := &SyncBatchFailedError{
		BatchID: "batch-1",
		Op:      "sync",
		Entries: 3,
		Attempt: 2,
		Err:     context.DeadlineExceeded,
	}

	assert.Equal(t,
		"sync batch batch-1 failed: sync of 3 entries (attempt 2): context deadline exceeded",
		err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	wrapped := fmt.Errorf("flush: %w", err)
	assert.True(t, IsSyncBatchFailed(wrapped))
	assert.False(t, IsSyncBatchFailed(errors.New("other")))
	assert.False(t, IsSyncBatchFailed(nil))
}
