package orchestrator

import (
	"context"
	"sync"

	"github.com/sw33tLie/pbxsched/pkg/normalize"
)

// SyncResult holds the outcome of syncing one instance as part of SyncAll.
type SyncResult struct {
	InstanceID string
	Summary    *normalize.SyncSummary
	Err        error
}

// SyncAll syncs the given instances with a bounded worker pool. Per-instance
// failures, including SYNC_IN_PROGRESS and SYNC_COOLDOWN rejections, are
// reported in the results and never stop the other workers. Results keep
// the order of ids. onDone is called from the worker goroutines.
func (o *Orchestrator) SyncAll(ctx context.Context, ids []string, concurrency int, onDone func(SyncResult)) []SyncResult {
	if len(ids) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 2
	}

	results := make([]SyncResult, len(ids))
	idxChan := make(chan int, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range idxChan {
				id := ids[idx]
				summary, err := o.SyncInstance(ctx, id)
				res := SyncResult{InstanceID: id, Summary: summary, Err: err}
				results[idx] = res
				if onDone != nil {
					onDone(res)
				}
			}
		}()
	}

	for i := range ids {
		idxChan <- i
	}
	close(idxChan)
	wg.Wait()

	return results
}
