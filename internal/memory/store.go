package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// store is the thin typed wrapper over hand-written SQL queries, mirroring
// the teacher's typed-accessor-plus-row-mapper store shape (no sqlc here:
// there is no generated output in the retrieval pack to ground sqlc usage
// on, so queries are written by hand — see DESIGN.md).
type store struct {
	db *sql.DB
}

func newStore(db *sql.DB) *store {
	return &store{db: db}
}

// withTx runs fn inside a serializable transaction, committing on success
// and rolling back on any error or panic (SPEC_FULL.md §4.4 concurrency:
// "every public operation runs inside one database transaction").
func (s *store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// insertRecord inserts record and grants owner full permissions in the same
// transaction. Returns DuplicateKey if recordId already exists.
func (s *store) insertRecord(ctx context.Context, record domain.MemoryRecord) error {
	embedding, err := marshalFloats(record.EmbeddingVector)
	if err != nil {
		return err
	}
	tags, err := marshalStrings(record.Metadata.Tags)
	if err != nil {
		return err
	}
	related, err := marshalStrings(record.Metadata.RelatedRecords)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory_records
				(record_id, key, category, data, agent_origin, embedding_vector, tags, timestamp, related_records, confidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.RecordID, record.Key, record.Category, record.Data, string(record.AgentOrigin),
			embedding, tags, record.Metadata.Timestamp, related, record.Metadata.Confidence,
			record.CreatedAt, record.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewError(domain.ErrDuplicateKey, "record "+record.RecordID+" already exists", err)
			}
			return fmt.Errorf("insert memory record: %w", err)
		}

		return grantPermissionTx(ctx, tx, record.RecordID, record.AgentOrigin, true, true, true)
	})
}

func grantPermissionTx(ctx context.Context, tx *sql.Tx, recordID string, agent domain.AgentID, read, write, del bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_permissions (record_id, agent_id, can_read, can_write, can_delete)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(record_id, agent_id) DO UPDATE SET
			can_read = excluded.can_read OR memory_permissions.can_read,
			can_write = excluded.can_write OR memory_permissions.can_write,
			can_delete = excluded.can_delete OR memory_permissions.can_delete`,
		recordID, string(agent), read, write, del)
	if err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

func (s *store) getRecord(ctx context.Context, recordID string) (domain.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, key, category, data, agent_origin, embedding_vector, tags, timestamp, related_records, confidence, created_at, updated_at
		FROM memory_records WHERE record_id = ?`, recordID)
	return scanRecord(row)
}

func (s *store) getPermission(ctx context.Context, recordID string, agent domain.AgentID) (domain.MemoryPermission, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, agent_id, can_read, can_write, can_delete
		FROM memory_permissions WHERE record_id = ? AND agent_id = ?`, recordID, string(agent))
	var p domain.MemoryPermission
	var agentID string
	err := row.Scan(&p.RecordID, &agentID, &p.Read, &p.Write, &p.Delete)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MemoryPermission{}, false, nil
	}
	if err != nil {
		return domain.MemoryPermission{}, false, fmt.Errorf("get permission: %w", err)
	}
	p.AgentID = domain.AgentID(agentID)
	return p, true, nil
}

func (s *store) grantPermission(ctx context.Context, recordID string, agent domain.AgentID, read, write, del bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return grantPermissionTx(ctx, tx, recordID, agent, read, write, del)
	})
}

func (s *store) updateRecord(ctx context.Context, recordID string, patch domain.MemoryPatch) (domain.MemoryRecord, error) {
	var updated domain.MemoryRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT record_id, key, category, data, agent_origin, embedding_vector, tags, timestamp, related_records, confidence, created_at, updated_at
			FROM memory_records WHERE record_id = ?`, recordID)
		existing, err := scanRecordRow(row)
		if err != nil {
			return err
		}

		if patch.Data != nil {
			existing.Data = *patch.Data
		}
		if patch.EmbeddingVector != nil {
			existing.EmbeddingVector = patch.EmbeddingVector
		}
		if patch.Metadata != nil {
			existing.Metadata = *patch.Metadata
		}
		existing.UpdatedAt = time.Now()

		embedding, err := marshalFloats(existing.EmbeddingVector)
		if err != nil {
			return err
		}
		tags, err := marshalStrings(existing.Metadata.Tags)
		if err != nil {
			return err
		}
		related, err := marshalStrings(existing.Metadata.RelatedRecords)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE memory_records SET data = ?, embedding_vector = ?, tags = ?, related_records = ?, confidence = ?, updated_at = ?
			WHERE record_id = ?`,
			existing.Data, embedding, tags, related, existing.Metadata.Confidence, existing.UpdatedAt, recordID)
		if err != nil {
			return fmt.Errorf("update memory record: %w", err)
		}
		updated = existing
		return nil
	})
	return updated, err
}

func (s *store) deleteRecord(ctx context.Context, recordID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM memory_records WHERE record_id = ?`, recordID)
		if err != nil {
			return fmt.Errorf("delete memory record: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return domain.NewError(domain.ErrNotFound, "record "+recordID+" not found", nil)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM memory_permissions WHERE record_id = ?`, recordID)
		if err != nil {
			return fmt.Errorf("delete memory permissions: %w", err)
		}
		return nil
	})
}

// listReadable returns every record in category (or all categories if
// empty) that agent has read permission on, newest first.
func (s *store) listReadable(ctx context.Context, category string, agent domain.AgentID) ([]domain.MemoryRecord, error) {
	query := `
		SELECT r.record_id, r.key, r.category, r.data, r.agent_origin, r.embedding_vector, r.tags, r.timestamp, r.related_records, r.confidence, r.created_at, r.updated_at
		FROM memory_records r
		JOIN memory_permissions p ON p.record_id = r.record_id
		WHERE p.agent_id = ? AND p.can_read = 1`
	args := []any{string(agent)}
	if category != "" {
		query += ` AND r.category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY r.created_at DESC, r.record_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list readable records: %w", err)
	}
	defer rows.Close()

	var records []domain.MemoryRecord
	for rows.Next() {
		r, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *store) recordExists(ctx context.Context, recordID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM memory_records WHERE record_id = ?)`, recordID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check record existence: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (domain.MemoryRecord, error) {
	return scanRecordRow(row)
}

func scanRecordRow(row rowScanner) (domain.MemoryRecord, error) {
	var (
		r                                  domain.MemoryRecord
		agentOrigin                        string
		embedding, tags, related           sql.NullString
	)
	err := row.Scan(&r.RecordID, &r.Key, &r.Category, &r.Data, &agentOrigin, &embedding, &tags,
		&r.Metadata.Timestamp, &related, &r.Metadata.Confidence, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MemoryRecord{}, domain.NewError(domain.ErrNotFound, "memory record not found", nil)
	}
	if err != nil {
		return domain.MemoryRecord{}, fmt.Errorf("scan memory record: %w", err)
	}
	r.AgentOrigin = domain.AgentID(agentOrigin)
	if embedding.Valid {
		if r.EmbeddingVector, err = unmarshalFloats(embedding.String); err != nil {
			return domain.MemoryRecord{}, err
		}
	}
	if tags.Valid {
		if r.Metadata.Tags, err = unmarshalStrings(tags.String); err != nil {
			return domain.MemoryRecord{}, err
		}
	}
	if related.Valid {
		if r.Metadata.RelatedRecords, err = unmarshalStrings(related.String); err != nil {
			return domain.MemoryRecord{}, err
		}
	}
	return r, nil
}

func marshalFloats(v []float64) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding vector: %w", err)
	}
	return string(b), nil
}

func unmarshalFloats(s string) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("unmarshal embedding vector: %w", err)
	}
	return v, nil
}

func marshalStrings(v []string) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(s string) ([]string, error) {
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	return v, nil
}

// isUniqueViolation detects sqlite's UNIQUE/PRIMARY KEY constraint error
// without importing the sqlite driver's error type directly, since
// modernc.org/sqlite reports it as a plain error whose message contains the
// SQLite result code text.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "constraint failed: PRIMARY KEY"))
}
