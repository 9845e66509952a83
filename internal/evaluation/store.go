package evaluation

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tgnlab/whatif/internal/logger"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// Store persists evaluation sessions and their per-event explanation
// records.
type Store interface {
	CreateSession(sessionID, strategy string) error
	RecordExplanation(record *Record) error
	ListSessions() ([]*SessionInfo, error)
	SessionRecords(sessionID string) ([]*Record, error)
	Close() error
}

// SessionInfo describes one stored evaluation session.
type SessionInfo struct {
	SessionID    string
	Strategy     string
	CreatedAt    time.Time
	Explanations int
	Flips        int
}

// Record is one persisted explanation run.
type Record struct {
	SessionID                string
	ExplainedEventID         int
	OriginalPrediction       float64
	CounterfactualPrediction float64
	Achieved                 bool
	EventIDs                 []int
	OracleCalls              int
	Duration                 time.Duration
	CreatedAt                time.Time
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewSQLiteStore opens (and if needed creates) the run store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".whatif", "runs", "runs.db")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run store directory: %w", err)
	}

	// WAL keeps concurrent readers out of the writer's way
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().
		Str("path", dbPath).
		Msg("Opened run store")

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS explanations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_id INTEGER NOT NULL,
		original_prediction REAL NOT NULL,
		counterfactual_prediction REAL NOT NULL,
		achieved INTEGER NOT NULL,
		event_ids TEXT,
		oracle_calls INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_explanations_session ON explanations(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession registers a new evaluation session.
func (s *SQLiteStore) CreateSession(sessionID, strategy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO sessions (session_id, strategy, created_at) VALUES (?, ?, ?)",
		sessionID, strategy, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// RecordExplanation stores one explanation run.
func (s *SQLiteStore) RecordExplanation(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO explanations
		 (session_id, event_id, original_prediction, counterfactual_prediction,
		  achieved, event_ids, oracle_calls, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		record.ExplainedEventID,
		record.OriginalPrediction,
		record.CounterfactualPrediction,
		boolToInt(record.Achieved),
		joinEventIDs(record.EventIDs),
		record.OracleCalls,
		record.Duration.Nanoseconds(),
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record explanation: %w", err)
	}
	return nil
}

// ListSessions returns all stored sessions, newest first.
func (s *SQLiteStore) ListSessions() ([]*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT s.session_id, s.strategy, s.created_at,
		        COUNT(e.id), COALESCE(SUM(e.achieved), 0)
		 FROM sessions s
		 LEFT JOIN explanations e ON e.session_id = s.session_id
		 GROUP BY s.session_id
		 ORDER BY s.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*SessionInfo
	for rows.Next() {
		var info SessionInfo
		var createdAt int64
		if err := rows.Scan(&info.SessionID, &info.Strategy, &createdAt, &info.Explanations, &info.Flips); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.CreatedAt = time.Unix(createdAt, 0)
		sessions = append(sessions, &info)
	}
	return sessions, rows.Err()
}

// SessionRecords returns the explanation records of one session in insertion
// order.
func (s *SQLiteStore) SessionRecords(sessionID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, event_id, original_prediction, counterfactual_prediction,
		        achieved, event_ids, oracle_calls, duration_ns, created_at
		 FROM explanations WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		var rec Record
		var achieved int
		var eventIDs string
		var durationNS, createdAt int64
		if err := rows.Scan(&rec.SessionID, &rec.ExplainedEventID, &rec.OriginalPrediction,
			&rec.CounterfactualPrediction, &achieved, &eventIDs, &rec.OracleCalls,
			&durationNS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Achieved = achieved != 0
		rec.EventIDs = splitEventIDs(eventIDs)
		rec.Duration = time.Duration(durationNS)
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinEventIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func splitEventIDs(joined string) []int {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		if id, err := strconv.Atoi(p); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
