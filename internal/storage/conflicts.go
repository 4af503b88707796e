// ABOUTME: Conflict resolution audit storage.
// ABOUTME: Rows are insert-only; overrides append a new row pointing at the one they supersede.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
)

const conflictColumns = `id, user_id, metric_type, bucket_start, canonical_id, type, policy,
	resolved_by, payload, supersedes_id, created_at`

// conflictPayload holds the observation snapshots of a conflict row.
type conflictPayload struct {
	Previous models.Observation  `json:"previous"`
	Incoming models.Observation  `json:"incoming"`
	Winning  models.Observation  `json:"winning"`
	Losing   *models.Observation `json:"losing,omitempty"`
}

func insertConflict(ctx context.Context, tx *sql.Tx, c *models.ConflictResolution) error {
	payload, err := json.Marshal(conflictPayload{
		Previous: c.Previous,
		Incoming: c.Incoming,
		Winning:  c.Winning,
		Losing:   c.Losing,
	})
	if err != nil {
		return fmt.Errorf("marshal conflict payload: %w", err)
	}

	var supersedes sql.NullString
	if c.SupersedesID != nil {
		supersedes = sql.NullString{String: c.SupersedesID.String(), Valid: true}
	}

	query := `INSERT INTO conflict_resolutions (` + conflictColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		c.ID.String(),
		c.UserID,
		string(c.MetricType),
		formatTime(c.BucketStart),
		c.CanonicalID.String(),
		string(c.Type),
		string(c.Policy),
		string(c.ResolvedBy),
		string(payload),
		supersedes,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

// GetConflict retrieves a conflict resolution by ID.
func (d *DB) GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictResolution, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflict_resolutions WHERE id = ?`
	return scanConflict(d.db.QueryRowContext(ctx, query, id.String()))
}

// ListConflicts returns a user's conflict resolutions, newest first.
func (d *DB) ListConflicts(ctx context.Context, userID string, limit int) ([]*models.ConflictResolution, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflict_resolutions WHERE 1=1`
	var args []interface{}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.ConflictResolution
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func scanConflict(row rowScanner) (*models.ConflictResolution, error) {
	var c models.ConflictResolution
	var idStr, metricType, bucketStart, canonicalID, ctype, policy, resolvedBy, payload, createdAt string
	var supersedes sql.NullString

	err := row.Scan(&idStr, &c.UserID, &metricType, &bucketStart, &canonicalID, &ctype, &policy,
		&resolvedBy, &payload, &supersedes, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan conflict: %w", err)
	}

	var p conflictPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("unmarshal conflict payload: %w", err)
	}

	c.ID, _ = uuid.Parse(idStr)
	c.MetricType = models.MetricType(metricType)
	c.BucketStart = parseTime(bucketStart)
	c.CanonicalID, _ = uuid.Parse(canonicalID)
	c.Type = models.ConflictType(ctype)
	c.Policy = models.ResolutionPolicy(policy)
	c.ResolvedBy = models.ResolvedBy(resolvedBy)
	c.Previous = p.Previous
	c.Incoming = p.Incoming
	c.Winning = p.Winning
	c.Losing = p.Losing
	c.CreatedAt = parseTime(createdAt)
	if supersedes.Valid {
		if sid, err := uuid.Parse(supersedes.String); err == nil {
			c.SupersedesID = &sid
		}
	}

	return &c, nil
}
