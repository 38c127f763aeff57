// Package memory implements the Memory Repository: a permission-gated,
// sqlite-backed store of shared agent memory records, with substring and
// cosine-similarity search and an in-process LRU read cache
// (SPEC_FULL.md §4.4).
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/basegraph-labs/orchestrator/common/id"
	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
)

// Repository is the Memory Repository's public surface. Every method
// enforces the calling agent's permission before touching the store.
type Repository interface {
	Put(ctx context.Context, record domain.MemoryRecord) (domain.MemoryRecord, error)
	Get(ctx context.Context, recordID string, agent domain.AgentID) (domain.MemoryRecord, error)
	Update(ctx context.Context, recordID string, agent domain.AgentID, patch domain.MemoryPatch) (domain.MemoryRecord, error)
	Delete(ctx context.Context, recordID string, agent domain.AgentID) error
	GrantPermission(ctx context.Context, recordID string, grantor, grantee domain.AgentID, read, write, del bool) error
	SearchSimilar(ctx context.Context, agent domain.AgentID, query SearchQuery) ([]domain.MemoryRecord, error)
	Close() error
}

type repository struct {
	db    *sql.DB
	store *store
	cache *recordCache
	bus   eventbus.Bus
}

// Config controls where the backing database lives and how the read cache
// is sized.
type Config struct {
	Path          string        // sqlite file path, e.g. "data/memory.db"
	CacheSize     int           // defaults to 1024 if <= 0
	CacheTTL      time.Duration // defaults to 5 minutes if <= 0
	SeedDirectory string        // optional, e.g. "data/seed/memory"
}

// Open opens (creating and migrating if needed) the backing sqlite
// database, constructs the Repository, and — if Config.SeedDirectory is
// set — loads any seed records not already present.
func Open(ctx context.Context, cfg Config, bus eventbus.Bus) (Repository, error) {
	db, err := openDB(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}

	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	repo := &repository{
		db:    db,
		store: newStore(db),
		cache: newRecordCache(cacheSize, cacheTTL),
		bus:   bus,
	}

	if cfg.SeedDirectory != "" {
		if err := repo.seed(ctx, cfg.SeedDirectory); err != nil {
			return nil, fmt.Errorf("seed memory repository: %w", err)
		}
	}

	return repo, nil
}

func (r *repository) Close() error {
	return r.db.Close()
}

// Put stores a brand-new record, owned by record.AgentOrigin, which is
// automatically granted read/write/delete on it.
func (r *repository) Put(ctx context.Context, record domain.MemoryRecord) (domain.MemoryRecord, error) {
	if record.RecordID == "" {
		record.RecordID = id.NewString("mem")
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Metadata.Timestamp.IsZero() {
		record.Metadata.Timestamp = now
	}

	if err := r.store.insertRecord(ctx, record); err != nil {
		return domain.MemoryRecord{}, err
	}
	r.cache.put(record)
	r.publish(ctx, domain.EventMemoryStored, memoryStoredPayload{RecordID: record.RecordID, Category: record.Category})
	return record.Clone(), nil
}

// Get returns a record if agent has read permission on it.
func (r *repository) Get(ctx context.Context, recordID string, agent domain.AgentID) (domain.MemoryRecord, error) {
	if err := r.requirePermission(ctx, recordID, agent, permRead); err != nil {
		return domain.MemoryRecord{}, err
	}
	if rec, ok := r.cache.get(recordID); ok {
		return rec, nil
	}
	rec, err := r.store.getRecord(ctx, recordID)
	if err != nil {
		return domain.MemoryRecord{}, err
	}
	r.cache.put(rec)
	return rec, nil
}

// Update applies patch to an existing record if agent has write permission.
func (r *repository) Update(ctx context.Context, recordID string, agent domain.AgentID, patch domain.MemoryPatch) (domain.MemoryRecord, error) {
	if err := r.requirePermission(ctx, recordID, agent, permWrite); err != nil {
		return domain.MemoryRecord{}, err
	}
	updated, err := r.store.updateRecord(ctx, recordID, patch)
	if err != nil {
		return domain.MemoryRecord{}, err
	}
	r.cache.invalidate(recordID)
	r.publish(ctx, domain.EventMemoryUpdated, memoryUpdatedPayload{RecordID: recordID})
	return updated, nil
}

// Delete removes a record if agent has delete permission.
func (r *repository) Delete(ctx context.Context, recordID string, agent domain.AgentID) error {
	if err := r.requirePermission(ctx, recordID, agent, permDelete); err != nil {
		return err
	}
	if err := r.store.deleteRecord(ctx, recordID); err != nil {
		return err
	}
	r.cache.invalidate(recordID)
	r.publish(ctx, domain.EventMemoryDeleted, memoryDeletedPayload{RecordID: recordID})
	return nil
}

// GrantPermission lets grantor extend access on a record to grantee, but
// only for flags the grantor itself already holds (the record owner holds
// all three from creation, so an owner may grant anything).
func (r *repository) GrantPermission(ctx context.Context, recordID string, grantor, grantee domain.AgentID, read, write, del bool) error {
	if read {
		if err := r.requirePermission(ctx, recordID, grantor, permRead); err != nil {
			return err
		}
	}
	if write {
		if err := r.requirePermission(ctx, recordID, grantor, permWrite); err != nil {
			return err
		}
	}
	if del {
		if err := r.requirePermission(ctx, recordID, grantor, permDelete); err != nil {
			return err
		}
	}
	return r.store.grantPermission(ctx, recordID, grantee, read, write, del)
}

// SearchSimilar scores every record agent may read per query.Mode.
func (r *repository) SearchSimilar(ctx context.Context, agent domain.AgentID, query SearchQuery) ([]domain.MemoryRecord, error) {
	return r.store.searchSimilar(ctx, agent, query)
}

type permKind int

const (
	permRead permKind = iota
	permWrite
	permDelete
)

func (r *repository) requirePermission(ctx context.Context, recordID string, agent domain.AgentID, kind permKind) error {
	exists, err := r.store.recordExists(ctx, recordID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NewError(domain.ErrNotFound, "record "+recordID+" not found", nil)
	}
	perm, ok, err := r.store.getPermission(ctx, recordID, agent)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewError(domain.ErrForbidden, string(agent)+" has no permission on "+recordID, nil)
	}
	var granted bool
	switch kind {
	case permRead:
		granted = perm.Read
	case permWrite:
		granted = perm.Write
	case permDelete:
		granted = perm.Delete
	}
	if !granted {
		return domain.NewError(domain.ErrForbidden, string(agent)+" lacks the required permission on "+recordID, nil)
	}
	return nil
}

func (r *repository) publish(ctx context.Context, t domain.EventType, payload any) {
	if r.bus == nil {
		return
	}
	evt, err := domain.NewEvent(id.NewEventID(), t, payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal memory event", "type", t, "error", err)
		return
	}
	r.bus.Publish(ctx, evt)
}

type memoryStoredPayload struct {
	RecordID string `json:"recordId"`
	Category string `json:"category"`
}

type memoryUpdatedPayload struct {
	RecordID string `json:"recordId"`
}

type memoryDeletedPayload struct {
	RecordID string `json:"recordId"`
}

// seedAgent owns every record loaded from the seed directory at startup.
const seedAgent domain.AgentID = "seed"

// seed loads every *.json file in dir as a domain.MemoryRecord and inserts
// it if no record with that RecordID already exists. A malformed file is
// logged and skipped rather than aborting startup, since seed data is
// best-effort bootstrap content, not a migration; an already-present record
// is skipped without logging.
func (r *repository) seed(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read seed directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := r.seedFile(ctx, filepath.Join(dir, entry.Name())); err != nil {
			slog.Warn("skipping memory seed file", "file", entry.Name(), "error", err)
		}
	}
	return nil
}

func (r *repository) seedFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var record domain.MemoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("unmarshal seed record: %w", err)
	}
	if record.RecordID == "" {
		return fmt.Errorf("seed record missing recordId")
	}
	if record.AgentOrigin == "" {
		record.AgentOrigin = seedAgent
	}

	exists, err := r.store.recordExists(ctx, record.RecordID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = r.Put(ctx, record)
	return err
}
