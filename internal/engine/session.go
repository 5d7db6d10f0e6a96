package engine

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/internal/metrics"
	"github.com/insight-agent/backend/pkg/logger"
)

// Session owns one in-memory database holding a single uploaded dataset.
// The handle is closed exactly once, on delete, expiry or eviction.
type Session struct {
	ID        string
	Profile   *DatasetProfile
	CreatedAt time.Time

	db           *sql.DB
	lastAccessed time.Time
	closeOnce    sync.Once
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		if err := s.db.Close(); err != nil {
			logger.Warn("Failed to close session database", zap.String("session_id", s.ID), zap.Error(err))
		}
	})
}

type SessionInfo struct {
	SessionID      string          `json:"session_id"`
	TableName      string          `json:"table_name"`
	RowCount       int             `json:"row_count"`
	Profile        *DatasetProfile `json:"profile"`
	CreatedAt      string          `json:"created_at"`
	LastAccessedAt string          `json:"last_accessed_at"`
}

type ManagerConfig struct {
	SessionTTL  time.Duration
	MaxSessions int
	Now         func() time.Time
}

// Manager tracks live sessions, expiring idle ones after a TTL and evicting
// the least recently used session when the cap is reached.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 60 * time.Minute
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		ttl:         cfg.SessionTTL,
		maxSessions: cfg.MaxSessions,
		now:         cfg.Now,
	}
}

// CreateFromCSV loads an upload into a fresh session database and registers
// the session, evicting the oldest one first if the cap is hit.
func (m *Manager) CreateFromCSV(ctx context.Context, filename string, r io.Reader) (*Session, error) {
	if err := CheckSupportedFile(filename); err != nil {
		return nil, err
	}

	data, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	kinds := inferColumnKinds(data)

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, errs.Wrap(errs.KindExecution, err, "failed to open session database")
	}
	// A single connection keeps the in-memory database alive and serializes
	// concurrent probe queries.
	db.SetMaxOpenConns(1)

	if err := loadTable(db, data, kinds); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindExecution, err, "failed to load dataset")
	}
	if err := initArtifactSchema(db); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindExecution, err, "failed to initialize artifact schema")
	}

	now := m.now()
	session := &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		db:           db,
		lastAccessed: now,
	}

	preview, err := session.Query(ctx, "SELECT * FROM "+quoteIdentifier(TableName), 10)
	if err != nil {
		db.Close()
		return nil, err
	}
	session.Profile = buildProfile(data, kinds, preview.Rows)

	m.mu.Lock()
	m.cleanupExpiredLocked()
	m.enforceCapLocked()
	m.sessions[session.ID] = session
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.Int("rows", session.Profile.RowCount),
		zap.Int("columns", session.Profile.ColumnCount),
	)

	return session, nil
}

// Get returns a live session and refreshes its last-accessed time.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupExpiredLocked()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, errs.Resource("session %s not found or expired", sessionID)
	}
	session.lastAccessed = m.now()
	return session, nil
}

func (m *Manager) Info(sessionID string) (*SessionInfo, error) {
	session, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	lastAccessed := session.lastAccessed
	m.mu.Unlock()

	return &SessionInfo{
		SessionID:      session.ID,
		TableName:      session.Profile.TableName,
		RowCount:       session.Profile.RowCount,
		Profile:        session.Profile,
		CreatedAt:      session.CreatedAt.Format(time.RFC3339),
		LastAccessedAt: lastAccessed.Format(time.RFC3339),
	}, nil
}

func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return errs.Resource("session %s not found or expired", sessionID)
	}
	session.close()
	delete(m.sessions, sessionID)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))

	logger.Info("Session deleted", zap.String("session_id", sessionID))
	return nil
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close releases every session. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		session.close()
		delete(m.sessions, id)
	}
	metrics.ActiveSessions.Set(0)
}

func (m *Manager) cleanupExpiredLocked() {
	now := m.now()
	expired := 0
	for id, session := range m.sessions {
		if now.Sub(session.lastAccessed) > m.ttl {
			session.close()
			delete(m.sessions, id)
			expired++
		}
	}
	if expired > 0 {
		metrics.SessionEvictions.Add(float64(expired))
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
		logger.Info("Cleaned up expired sessions", zap.Int("count", expired))
	}
}

func (m *Manager) enforceCapLocked() {
	if len(m.sessions) < m.maxSessions {
		return
	}

	var oldestID string
	var oldestAccess time.Time
	for id, session := range m.sessions {
		if oldestID == "" || session.lastAccessed.Before(oldestAccess) {
			oldestID = id
			oldestAccess = session.lastAccessed
		}
	}
	if oldestID == "" {
		return
	}

	m.sessions[oldestID].close()
	delete(m.sessions, oldestID)
	metrics.SessionEvictions.Inc()
	logger.Info("Evicted least recently used session", zap.String("session_id", oldestID))
}
