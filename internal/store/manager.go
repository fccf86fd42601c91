package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "adminchat/pkg/database"
	"adminchat/pkg/types"
)

// Manager implements interfaces.MessageStore on SQLite. All writes funnel
// through a single goroutine; reads run concurrently on the pool.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	busyTimeout := config.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		config.DatabasePath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db, busyTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. SQLite
// allows one writer at a time; serializing here avoids lock contention.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Message store write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Message store write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Message store write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrStoreClosed
	}
}

// Append persists a new message with its sender snapshot and payload.
func (m *Manager) Append(ctx context.Context, msg *types.ChatMessage) error {
	if !types.IsValidKind(msg.Kind) {
		return types.ErrInvalidKind
	}

	payloadJSON, err := marshalPayload(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO messages (id, sender_id, sender_name, sender_email, sender_role,
			                      kind, body, payload, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			msg.ID,
			msg.Sender.ID,
			msg.Sender.Name,
			msg.Sender.Email,
			msg.Sender.Role,
			msg.Kind,
			msg.Body,
			payloadJSON,
			msg.IsRead,
			msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

const messageColumns = `id, sender_id, sender_name, sender_email, sender_role,
	kind, body, payload, is_read, created_at`

// RecentMessages returns the newest messages across all senders, descending
// creation time with insertion order (rowid) breaking ties.
func (m *Manager) RecentMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, messageColumns)

	return m.queryMessages(ctx, query, limit)
}

// MessagesBySender returns the newest messages from one sender.
func (m *Manager) MessagesBySender(ctx context.Context, senderID string, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE sender_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, messageColumns)

	return m.queryMessages(ctx, query, senderID, limit)
}

// MarkOthersRead flags every unread message not authored by viewerID.
// The viewer's own messages are never touched.
func (m *Manager) MarkOthersRead(ctx context.Context, viewerID string) (int64, error) {
	var affected int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE messages SET is_read = 1 WHERE sender_id != ? AND is_read = 0",
			viewerID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// UnreadCount counts unread messages not authored by viewerID.
func (m *Manager) UnreadCount(ctx context.Context, viewerID string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE sender_id != ? AND is_read = 0",
		viewerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// HealthCheck validates database connectivity and read access.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection for schema validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the writer goroutine and the connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (m *Manager) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*types.ChatMessage, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

func scanMessage(rows *sql.Rows) (*types.ChatMessage, error) {
	var msg types.ChatMessage
	var payloadJSON sql.NullString

	err := rows.Scan(
		&msg.ID,
		&msg.Sender.ID,
		&msg.Sender.Name,
		&msg.Sender.Email,
		&msg.Sender.Role,
		&msg.Kind,
		&msg.Body,
		&payloadJSON,
		&msg.IsRead,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message row: %w", err)
	}

	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := unmarshalPayload(&msg, payloadJSON.String); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

// marshalPayload serializes the kind-specific payload, nil for text/system.
func marshalPayload(msg *types.ChatMessage) (interface{}, error) {
	var payload interface{}
	switch msg.Kind {
	case types.KindLocation:
		payload = msg.Location
	case types.KindImage:
		payload = msg.Image
	case types.KindModel3D:
		payload = msg.Model3D
	default:
		return nil, nil
	}
	if payload == nil {
		return nil, types.ErrInvalidKind
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalPayload(msg *types.ChatMessage, payloadJSON string) error {
	switch msg.Kind {
	case types.KindLocation:
		msg.Location = &types.GeoPoint{}
		return json.Unmarshal([]byte(payloadJSON), msg.Location)
	case types.KindImage:
		msg.Image = &types.FileRef{}
		return json.Unmarshal([]byte(payloadJSON), msg.Image)
	case types.KindModel3D:
		msg.Model3D = &types.FileRef{}
		return json.Unmarshal([]byte(payloadJSON), msg.Model3D)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB, busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
