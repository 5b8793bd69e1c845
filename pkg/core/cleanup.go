package core

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// Cleanup removes the owner's memories that are older than the retention
// window, then evicts the oldest memories beyond the per-owner cap. Both
// rules apply across all memory tables.
//
// Store schedules this automatically; calling it directly is useful for
// maintenance jobs.
func (c *Client) Cleanup(ctx context.Context, ownerID string) (*CleanupReport, error) {
	const op = "Cleanup"
	if ownerID == "" {
		return nil, invalidInput(op, "owner id is required")
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	return c.cleanup(ctx, ownerID)
}

func (c *Client) cleanup(ctx context.Context, ownerID string) (*CleanupReport, error) {
	const op = "Cleanup"
	report := &CleanupReport{}
	tables := c.MemoryTables()

	if c.opts.retention > 0 {
		cutoff := c.opts.now().Add(-c.opts.retention).UTC()
		for _, table := range tables {
			sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
			n, err := c.store.Delete(sctx, table, &storage.Filter{
				OwnerID:       ownerID,
				CreatedBefore: cutoff,
			})
			cancel()
			if err != nil {
				c.metrics.RecordStorageError("cleanup")
				return report, storageUnavailable(op, err)
			}
			report.Expired += n
			c.metrics.RecordCleanup(table, "retention", n)
		}
	}

	if c.opts.maxPerOwner > 0 {
		evicted, err := c.evictOverCap(ctx, ownerID, tables)
		report.Evicted = evicted
		if err != nil {
			c.metrics.RecordStorageError("cleanup")
			return report, storageUnavailable(op, err)
		}
	}

	if report.Expired > 0 || report.Evicted > 0 {
		c.logger.Info("memory cleanup",
			zap.String("owner_id", ownerID),
			zap.Int64("expired", report.Expired),
			zap.Int64("evicted", report.Evicted))
	}
	return report, nil
}

type evictionCandidate struct {
	table     string
	id        string
	createdAt time.Time
}

// evictOverCap deletes the oldest memories of the owner until at most
// maxPerOwner remain across tables.
func (c *Client) evictOverCap(ctx context.Context, ownerID string, tables []string) (int64, error) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
	defer cancel()

	owner := &storage.Filter{OwnerID: ownerID}
	var total int64
	for _, table := range tables {
		n, err := c.store.Count(sctx, table, owner)
		if err != nil {
			return 0, err
		}
		total += n
	}

	excess := total - c.opts.maxPerOwner
	if excess <= 0 {
		return 0, nil
	}

	// The globally oldest `excess` rows are among the oldest `excess` rows
	// of each table.
	var candidates []evictionCandidate
	for _, table := range tables {
		records, err := c.store.Scan(sctx, table, &storage.ScanOptions{
			Filter:      owner,
			Limit:       int(excess),
			OldestFirst: true,
		})
		if err != nil {
			return 0, err
		}
		for _, r := range records {
			candidates = append(candidates, evictionCandidate{table: table, id: r.ID, createdAt: r.CreatedAt})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].createdAt.Equal(candidates[j].createdAt) {
			return candidates[i].id < candidates[j].id
		}
		return candidates[i].createdAt.Before(candidates[j].createdAt)
	})
	if int64(len(candidates)) > excess {
		candidates = candidates[:excess]
	}

	byTable := make(map[string][]string)
	for _, cand := range candidates {
		byTable[cand.table] = append(byTable[cand.table], cand.id)
	}

	var evicted int64
	for _, table := range tables {
		ids := byTable[table]
		if len(ids) == 0 {
			continue
		}
		n, err := c.store.Delete(sctx, table, &storage.Filter{OwnerID: ownerID, IDs: ids})
		if err != nil {
			return evicted, err
		}
		evicted += n
		c.metrics.RecordCleanup(table, "capacity", n)
	}
	return evicted, nil
}
