package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"crowdplay-room-service/internal/app"
)

// ArchiveStore persists ended rooms as JSONB records.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

func (s *ArchiveStore) ArchiveRoom(ctx context.Context, record app.ArchiveRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO room_archives (room_id, code, host_id, ended_at, data)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (room_id) DO UPDATE SET data = EXCLUDED.data, ended_at = EXCLUDED.ended_at`,
		record.RoomID, record.Code, record.HostID, record.EndedAt, data)
	if err != nil {
		return fmt.Errorf("archive room: %w", err)
	}
	return nil
}

// LoadArchive reads one archived room back, mostly for post-game review.
func (s *ArchiveStore) LoadArchive(ctx context.Context, roomID string) (app.ArchiveRecord, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM room_archives WHERE room_id=$1`, roomID).Scan(&raw)
	if err != nil {
		return app.ArchiveRecord{}, fmt.Errorf("load archive: %w", err)
	}
	var record app.ArchiveRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return app.ArchiveRecord{}, fmt.Errorf("unmarshal archive: %w", err)
	}
	return record, nil
}
