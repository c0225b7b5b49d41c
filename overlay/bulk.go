package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"order-board/domain"
)

// ReorderStep is the gap between consecutive sort positions.
const ReorderStep = 10

// BulkUpdate is one item of a bulk status update.
type BulkUpdate struct {
	CardID string `json:"cardId"`
	domain.StatePatch
}

// ItemResult reports the outcome of one bulk item.
type ItemResult struct {
	CardID  string            `json:"cardId"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	State   *domain.CardState `json:"state,omitempty"`
}

// Reorder assigns each id the sort position (index+1)*ReorderStep, where
// index is its place in orderedCardIDs. Only sortOrder is written; status,
// assignment and notes are untouched. Empty ids are skipped without closing
// the gap and duplicate ids keep their first position. The count of rows
// written is returned along with the joined errors of any rows that failed.
func (s *Service) Reorder(ctx context.Context, tenantID, deliveryDate string, orderedCardIDs []string) (int, error) {
	if err := domain.ValidateDeliveryDate(deliveryDate); err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(orderedCardIDs))
	updates := make([]BulkUpdate, 0, len(orderedCardIDs))
	for i, id := range orderedCardIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		pos := (i + 1) * ReorderStep
		updates = append(updates, BulkUpdate{CardID: id, StatePatch: domain.StatePatch{SortOrder: &pos}})
	}

	results := s.apply(ctx, tenantID, deliveryDate, updates)
	count := 0
	var errs []error
	for _, r := range results {
		if r.Success {
			count++
			continue
		}
		errs = append(errs, fmt.Errorf("card %s: %s", r.CardID, r.Error))
	}
	if len(errs) > 0 {
		s.logger.WithFields(log.Fields{"tenant": tenantID, "date": deliveryDate, "failed": len(errs), "written": count}).Warn("reorder partially failed")
	}
	return count, errors.Join(errs...)
}

// BulkStatusUpdate applies each update independently. A failing item does
// not stop the others; every item gets a result in input order.
func (s *Service) BulkStatusUpdate(ctx context.Context, tenantID, deliveryDate string, updates []BulkUpdate) ([]ItemResult, error) {
	if err := domain.ValidateDeliveryDate(deliveryDate); err != nil {
		return nil, err
	}
	return s.apply(ctx, tenantID, deliveryDate, updates), nil
}

type bulkJob struct {
	index  int
	update BulkUpdate
}

// apply fans updates out to a bounded set of workers.
func (s *Service) apply(ctx context.Context, tenantID, deliveryDate string, updates []BulkUpdate) []ItemResult {
	results := make([]ItemResult, len(updates))
	if len(updates) == 0 {
		return results
	}
	workers := s.workers
	if workers > len(updates) {
		workers = len(updates)
	}

	jobs := make(chan bulkJob)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = s.applyOne(ctx, tenantID, deliveryDate, j.update)
			}
		}()
	}
	for i, u := range updates {
		jobs <- bulkJob{index: i, update: u}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (s *Service) applyOne(ctx context.Context, tenantID, deliveryDate string, u BulkUpdate) ItemResult {
	res := ItemResult{CardID: u.CardID}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}
	st, err := s.Upsert(ctx, tenantID, u.CardID, deliveryDate, u.StatePatch)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.State = &st
	return res
}
