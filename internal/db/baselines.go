package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ember/heatsync/internal/models"
)

func scanBaseline(r rowScanner) (*models.Baseline, error) {
	var (
		b       models.Baseline
		bucket  string
		updated string
		lastErr sql.NullString
	)
	err := r.Scan(&bucket, &b.AvgHR, &b.SessionCount, &updated, &b.SyncState, &lastErr)
	if err != nil {
		return nil, err
	}
	b.Bucket = models.Bucket(bucket)
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("baseline %s updated_at: %w", bucket, err)
	}
	if lastErr.Valid {
		b.LastSyncError = lastErr.String
	}
	return &b, nil
}

// GetBaseline returns the baseline for a bucket, nil when no session has
// contributed yet.
func (db *DB) GetBaseline(bucket models.Bucket) (*models.Baseline, error) {
	row := db.conn.QueryRow(
		`SELECT bucket, avg_hr, session_count, updated_at, sync_state, last_sync_error
		 FROM baselines WHERE bucket = ?`, string(bucket))
	b, err := scanBaseline(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline %s: %w", bucket, err)
	}
	return b, nil
}

// ListBaselines returns all buckets that have received contributions.
func (db *DB) ListBaselines() ([]models.Baseline, error) {
	rows, err := db.conn.Query(
		`SELECT bucket, avg_hr, session_count, updated_at, sync_state, last_sync_error
		 FROM baselines ORDER BY bucket ASC`)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var baselines []models.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		baselines = append(baselines, *b)
	}
	return baselines, rows.Err()
}

// SaveBaseline writes a locally recomputed baseline, bumps updated_at,
// demotes it to pending and enqueues the upsert.
func (db *DB) SaveBaseline(b *models.Baseline) error {
	return db.inTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`
			INSERT INTO baselines (bucket, avg_hr, session_count, updated_at, sync_state, last_sync_error)
			VALUES (?, ?, ?, ?, ?, '')
			ON CONFLICT(bucket) DO UPDATE SET
				avg_hr = excluded.avg_hr,
				session_count = excluded.session_count,
				updated_at = excluded.updated_at,
				sync_state = excluded.sync_state,
				last_sync_error = ''`,
			string(b.Bucket), b.AvgHR, b.SessionCount, fmtTime(now), string(models.SyncPending))
		if err != nil {
			return fmt.Errorf("save baseline %s: %w", b.Bucket, err)
		}
		return enqueueOutboxTx(tx, models.RecordBaseline, string(b.Bucket), models.OpUpsert)
	})
}

// ApplyRemoteBaseline applies a baseline from the replica or relay under
// record-level last-writer-wins. Nothing is re-enqueued.
func (db *DB) ApplyRemoteBaseline(remote *models.Baseline) (bool, error) {
	applied := false
	err := db.inTx(func(tx *sql.Tx) error {
		existing, err := db.GetBaseline(remote.Bucket)
		if err != nil {
			return err
		}
		if existing != nil && !remote.UpdatedAt.After(existing.UpdatedAt) {
			return nil
		}
		_, err = tx.Exec(`
			INSERT INTO baselines (bucket, avg_hr, session_count, updated_at, sync_state, last_sync_error)
			VALUES (?, ?, ?, ?, ?, '')
			ON CONFLICT(bucket) DO UPDATE SET
				avg_hr = excluded.avg_hr,
				session_count = excluded.session_count,
				updated_at = excluded.updated_at,
				sync_state = excluded.sync_state,
				last_sync_error = ''`,
			string(remote.Bucket), remote.AvgHR, remote.SessionCount,
			fmtTime(remote.UpdatedAt), string(models.SyncSynced))
		if err != nil {
			return fmt.Errorf("apply remote baseline %s: %w", remote.Bucket, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// MarkBaselineUploading moves a pending/failed baseline into uploading.
func (db *DB) MarkBaselineUploading(bucket string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE baselines SET sync_state = ? WHERE bucket = ? AND sync_state IN (?, ?)`,
			string(models.SyncUploading), bucket, string(models.SyncPending), string(models.SyncFailed))
		return err
	})
}

// MarkBaselineSynced completes a baseline push, uploading rows only.
func (db *DB) MarkBaselineSynced(bucket string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE baselines SET sync_state = ?, last_sync_error = '' WHERE bucket = ? AND sync_state = ?`,
			string(models.SyncSynced), bucket, string(models.SyncUploading))
		return err
	})
}
