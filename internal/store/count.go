package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const countLandedQuery = `SELECT count_of_records FROM ingestion_control WHERE ingestion_id = $1`

// CountStore reads how many events of a batch have landed.
type CountStore struct {
	q Querier
}

func NewCountStore(q Querier) *CountStore {
	return &CountStore{q: q}
}

// CountLanded returns the committed row count for ingestionID. A batch with no
// rows yet counts 0. The query runs in exec mode so neither pgx's statement
// cache nor its describe cache can serve a stale plan. On failure the count is
// 0 and the error is returned so the caller can retry the pass.
func (s *CountStore) CountLanded(ctx context.Context, ingestionID string) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, countLandedQuery, pgx.QueryExecModeExec, ingestionID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("counting landed events for %s: %w", ingestionID, err)
	}
	return count, nil
}
