package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

var tripColumns = []string{
	"id", "ingestion_id", "region", "origin_coord",
	"destination_coord", "datetime", "datasource", "stream_message_id",
}

// TripStore lands decoded trip events.
type TripStore struct {
	tx TxRunner
}

func NewTripStore(tx TxRunner) *TripStore {
	return &TripStore{tx: tx}
}

// Insert copies trips into a temp table and moves them into trips in one
// transaction. Rows whose stream message was already landed are skipped, so
// redelivered messages never inflate a batch count. It returns how many rows
// were new.
func (s *TripStore) Insert(ctx context.Context, trips []model.Trip) (int64, error) {
	if len(trips) == 0 {
		return 0, nil
	}

	var inserted int64
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			CREATE TEMP TABLE trips_incoming
				( LIKE trips INCLUDING DEFAULTS )
				ON COMMIT DROP`); err != nil {
			return fmt.Errorf("creating temp table: %w", err)
		}

		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"trips_incoming"}, tripColumns,
			pgx.CopyFromSlice(len(trips), func(i int) ([]any, error) {
				t := trips[i]
				return []any{
					t.ID, t.IngestionID, t.Region, t.OriginCoord,
					t.DestinationCoord, t.Datetime, t.Datasource, t.StreamMessageID,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("copying trips: %w", err)
		}
		if copied != int64(len(trips)) {
			return fmt.Errorf("copied %d of %d trips", copied, len(trips))
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO trips SELECT * FROM trips_incoming
			ON CONFLICT (stream_message_id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("moving trips: %w", err)
		}
		inserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
