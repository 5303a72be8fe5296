package unread

import (
	"context"
	"sync"
	"time"

	"github.com/tannerhall/briefd/internal/cache"
	"github.com/tannerhall/briefd/internal/config"
	"github.com/tannerhall/briefd/internal/ops"
)

// FetchFunc retrieves the unread counter for one channel from the remote
// server. It is supplied by the per-service collaborator.
type FetchFunc func(ctx context.Context, channelID string) (cache.UnreadCount, error)

// Batcher refreshes per-channel unread counts in bounded-concurrency
// batches, so a large channel list does not hammer the remote server all
// at once.
type Batcher struct {
	store     *cache.Store
	batchSize int
	logger    *ops.Logger
}

// NewBatcher creates a batcher writing into the given store
func NewBatcher(cfg *config.Unread, store *cache.Store, logger *ops.Logger) *Batcher {
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 10
	}

	return &Batcher{
		store:     store,
		batchSize: batchSize,
		logger:    logger.WithComponent("unread"),
	}
}

// Refresh fetches unread counts for the given channels. Channels are
// partitioned into fixed-size batches; within a batch every fetch runs
// concurrently and all of them settle. A failed fetch removes only that
// channel from the result, never the batch or the call. The result is
// written into the store once, as a single bulk update, and returned.
func (b *Batcher) Refresh(ctx context.Context, channelIDs []string, fetch FetchFunc) map[string]cache.UnreadCount {
	start := time.Now()
	result := make(map[string]cache.UnreadCount)

	var mu sync.Mutex

	for offset := 0; offset < len(channelIDs); offset += b.batchSize {
		end := offset + b.batchSize
		if end > len(channelIDs) {
			end = len(channelIDs)
		}
		batch := channelIDs[offset:end]

		var wg sync.WaitGroup
		for _, channelID := range batch {
			wg.Add(1)
			go func(channelID string) {
				defer wg.Done()

				count, err := fetch(ctx, channelID)
				if err != nil {
					b.logger.Warn("unread fetch failed",
						"channel_id", channelID,
						"error", err)
					return
				}

				mu.Lock()
				result[channelID] = count
				mu.Unlock()
			}(channelID)
		}
		wg.Wait()
	}

	b.store.SetUnreads(result)
	b.logger.LogUnreadRefresh(len(channelIDs), len(result), time.Since(start))

	return result
}
