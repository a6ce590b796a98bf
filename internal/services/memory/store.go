package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	MaxTextLength  = 1000
	MaxQueryLength = 400
)

var (
	ErrEmptyText    = errors.New("memory text must not be empty")
	ErrTextTooLong  = errors.New("memory text exceeds 1000 characters")
	ErrEmptyQuery   = errors.New("search query must not be empty")
	ErrQueryTooLong = errors.New("search query exceeds 400 characters")
)

// Service is the long-term memory used by the chat and memory endpoints.
type Service interface {
	Upsert(ctx context.Context, memType, text string) (models.MemoryRecord, error)
	Search(ctx context.Context, query string, k int) ([]models.MemoryRecord, error)
	Clear(ctx context.Context) error
}

var _ Service = (*Store)(nil)

// State is the lifecycle of a Store.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Store keeps memories in SQLite and ranks them with a TF-IDF index persisted
// next to the database.
type Store struct {
	cfg    *config.MemoryConfig
	logger *logrus.Logger
	now    func() time.Time

	stateMu sync.Mutex
	state   State
	ready   chan struct{}
	initErr error

	// mu guards db writes and the index.
	mu    sync.RWMutex
	db    *sql.DB
	index *vectorIndex
}

// NewStore creates an uninitialized store. Nothing touches disk until the
// first call to EnsureReady.
func NewStore(cfg *config.MemoryConfig, logger *logrus.Logger) *Store {
	return &Store{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		index:  newVectorIndex(),
	}
}

// State reports the current lifecycle state.
func (s *Store) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// EnsureReady opens the database and loads the index once. Concurrent callers
// wait for the same initialization. A failed initialization is retried by the
// next caller.
func (s *Store) EnsureReady(ctx context.Context) error {
	for {
		s.stateMu.Lock()
		switch s.state {
		case StateReady:
			s.stateMu.Unlock()
			return nil
		case StateInitializing:
			ready := s.ready
			s.stateMu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ready:
			}
			s.stateMu.Lock()
			state, err := s.state, s.initErr
			s.stateMu.Unlock()
			if state != StateReady && err != nil {
				return err
			}
			continue
		}

		s.state = StateInitializing
		s.ready = make(chan struct{})
		s.stateMu.Unlock()

		err := s.initialize(ctx)

		s.stateMu.Lock()
		s.initErr = err
		if err != nil {
			s.state = StateUninitialized
		} else {
			s.state = StateReady
		}
		close(s.ready)
		s.stateMu.Unlock()
		return err
	}
}

func (s *Store) initialize(ctx context.Context) error {
	db, err := openDB(s.cfg.DBPath)
	if err != nil {
		return err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return err
	}

	records, err := loadAll(ctx, db)
	if err != nil {
		db.Close()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
	s.index = s.loadIndex(records)

	s.logger.WithFields(logrus.Fields{
		"db":       s.cfg.DBPath,
		"memories": len(records),
	}).Info("Memory store ready")
	return nil
}

func (s *Store) loadIndex(records []models.MemoryRecord) *vectorIndex {
	if s.cfg.IndexPath != "" {
		x, err := loadVectorIndex(s.cfg.IndexPath)
		switch {
		case err == nil && x.attach(records):
			return x
		case err != nil && !errors.Is(err, os.ErrNotExist):
			s.logger.WithError(err).Warn("Discarding unreadable memory index")
		}
	}

	x := newVectorIndex()
	x.build(records)
	if err := x.save(s.cfg.IndexPath); err != nil {
		s.logger.WithError(err).Warn("Failed to persist memory index")
	}
	return x
}

// Upsert stores a memory, refreshing its timestamp when the same type and
// normalized text already exist.
func (s *Store) Upsert(ctx context.Context, memType, text string) (models.MemoryRecord, error) {
	memType = strings.ToLower(strings.TrimSpace(memType))
	if !models.ValidMemoryType(memType) {
		return models.MemoryRecord{}, models.ErrInvalidMemoryType
	}
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return models.MemoryRecord{}, ErrEmptyText
	}
	if len([]rune(normalized)) > MaxTextLength {
		return models.MemoryRecord{}, ErrTextTooLong
	}
	if err := s.EnsureReady(ctx); err != nil {
		return models.MemoryRecord{}, err
	}

	compacted := compactText(normalized, s.maxStoredLength())

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories(type, text, created_at) VALUES(?, ?, ?)
		ON CONFLICT(type, text) DO UPDATE SET created_at = excluded.created_at`,
		memType, compacted, s.now().UTC())
	if err != nil {
		return models.MemoryRecord{}, fmt.Errorf("failed to upsert memory: %w", err)
	}

	var rec models.MemoryRecord
	err = s.db.QueryRowContext(ctx,
		`SELECT id, type, text, created_at FROM memories WHERE type = ? AND text = ?`,
		memType, compacted).Scan(&rec.ID, &rec.Type, &rec.Text, &rec.CreatedAt)
	if err != nil {
		return models.MemoryRecord{}, fmt.Errorf("failed to read back memory: %w", err)
	}

	if err := s.reindexLocked(ctx); err != nil {
		return models.MemoryRecord{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"id":   rec.ID,
		"type": rec.Type,
	}).Debug("Memory stored")
	return rec, nil
}

// Search returns up to k memories relevant to query, best first.
func (s *Store) Search(ctx context.Context, query string, k int) ([]models.MemoryRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if len([]rune(query)) > MaxQueryLength {
		return nil, ErrQueryTooLong
	}
	if k < 1 {
		k = 1
	}
	if err := s.EnsureReady(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ranked := s.index.rank(query)
	s.mu.RUnlock()

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	results := make([]models.MemoryRecord, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, r.record)
	}
	return results, nil
}

// Clear deletes every memory and the persisted index.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.EnsureReady(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("failed to clear memories: %w", err)
	}
	s.index = newVectorIndex()
	if s.cfg.IndexPath != "" {
		if err := os.Remove(s.cfg.IndexPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove memory index: %w", err)
		}
	}

	s.logger.Info("Memory store cleared")
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil

	s.stateMu.Lock()
	s.state = StateUninitialized
	s.stateMu.Unlock()
	return err
}

func (s *Store) reindexLocked(ctx context.Context) error {
	records, err := loadAll(ctx, s.db)
	if err != nil {
		return err
	}
	x := newVectorIndex()
	x.build(records)
	s.index = x
	if err := x.save(s.cfg.IndexPath); err != nil {
		s.logger.WithError(err).Warn("Failed to persist memory index")
	}
	return nil
}

func (s *Store) maxStoredLength() int {
	if s.cfg.MaxTextLength > 0 {
		return s.cfg.MaxTextLength
	}
	return 140
}

// compactText shortens text to at most width runes, cutting on a word
// boundary and ending with an ellipsis.
func compactText(text string, width int) string {
	if len([]rune(text)) <= width {
		return text
	}

	const ellipsis = "…"
	var b strings.Builder
	used := 0
	for _, word := range strings.Fields(text) {
		n := len([]rune(word))
		sep := 0
		if used > 0 {
			sep = 1
		}
		if used+sep+n+1 > width {
			break
		}
		if sep == 1 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
		used += sep + n
	}
	if used == 0 {
		return string([]rune(text)[:width-1]) + ellipsis
	}
	return b.String() + ellipsis
}

func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}
	return db, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(type, text)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create memories table: %w", err)
	}
	return nil
}

func loadAll(ctx context.Context, db *sql.DB) ([]models.MemoryRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, type, text, created_at FROM memories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	defer rows.Close()

	var records []models.MemoryRecord
	for rows.Next() {
		var rec models.MemoryRecord
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Text, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
