package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	dbconfig "parley/pkg/database"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// Manager implements interfaces.DurableStore on SQLite.
//
// Reads run concurrently on the connection pool; every mutation funnels
// through a single writer goroutine, which is how SQLite wants to be written
// to. Transient write failures are retried once after a delay; domain errors
// (duplicates, not-found) are returned immediately.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

const writeRetryDelay = 5 * time.Second

// NewManager opens the database, applies pragmas and migrations, and starts
// the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := dbconfig.ValidateSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && shouldRetry(err) {
				log.Printf("Database write failed, retrying in %s: %v", writeRetryDelay, err)
				time.Sleep(writeRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

// shouldRetry distinguishes transient I/O failures, worth a second attempt,
// from domain errors that will fail identically every time.
func shouldRetry(err error) bool {
	for _, domainErr := range []error{
		interfaces.ErrUserExists, interfaces.ErrUserNotFound,
		interfaces.ErrRoomExists, interfaces.ErrRoomNotFound,
		interfaces.ErrMessageNotFound,
	} {
		if errors.Is(err, domainErr) {
			return false
		}
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		return false
	}
	return true
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errors.New("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return errors.New("write operation timeout")
	case <-m.shutdown:
		return errors.New("database manager is shutting down")
	}
}

func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// User operations.

func (m *Manager) CreateUser(ctx context.Context, username, email, passwordHash string, isAdmin bool) (*types.User, error) {
	user := &types.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now(),
		PasswordHash: passwordHash,
	}

	err := m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, username, email, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			user.ID, user.Username, user.Email, user.PasswordHash, user.IsAdmin, user.CreatedAt,
		)
		if isUniqueViolation(err) {
			return interfaces.ErrUserExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (m *Manager) FindUserByID(ctx context.Context, id string) (*types.User, error) {
	return m.scanUser(m.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE id = ?`, id))
}

func (m *Manager) FindUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return m.scanUser(m.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE username = ?`, username))
}

func (m *Manager) scanUser(row *sql.Row) (*types.User, error) {
	var user types.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (m *Manager) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		var user types.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return interfaces.ErrUserNotFound
		}
		return nil
	})
}

func (m *Manager) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_admin = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return count, nil
}

// Room operations.

func (m *Manager) CreateRoom(ctx context.Context, name string, isPrivate bool, createdBy string) (*types.Room, error) {
	room := &types.Room{
		ID:        uuid.NewString(),
		Name:      name,
		IsPrivate: isPrivate,
		CreatedAt: time.Now(),
		CreatedBy: createdBy,
	}

	err := m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO rooms (id, name, is_private, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
			room.ID, room.Name, room.IsPrivate, room.CreatedBy, room.CreatedAt,
		)
		if isUniqueViolation(err) {
			return interfaces.ErrRoomExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (m *Manager) FindRoomByID(ctx context.Context, id string) (*types.Room, error) {
	return m.scanRoom(m.db.QueryRowContext(ctx,
		`SELECT id, name, is_private, created_by, created_at FROM rooms WHERE id = ?`, id))
}

func (m *Manager) FindRoomByName(ctx context.Context, name string) (*types.Room, error) {
	return m.scanRoom(m.db.QueryRowContext(ctx,
		`SELECT id, name, is_private, created_by, created_at FROM rooms WHERE name = ?`, name))
}

func (m *Manager) scanRoom(row *sql.Row) (*types.Room, error) {
	var room types.Room
	var createdBy sql.NullString
	err := row.Scan(&room.ID, &room.Name, &room.IsPrivate, &createdBy, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	room.CreatedBy = createdBy.String
	return &room, nil
}

func (m *Manager) ListRooms(ctx context.Context, includePrivate bool) ([]*types.Room, error) {
	query := `SELECT id, name, is_private, created_by, created_at FROM rooms`
	if !includePrivate {
		query += ` WHERE is_private = 0`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		var room types.Room
		var createdBy sql.NullString
		if err := rows.Scan(&room.ID, &room.Name, &room.IsPrivate, &createdBy, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		room.CreatedBy = createdBy.String
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

func (m *Manager) DeleteRoom(ctx context.Context, id string) error {
	return m.executeWrite(func(db *sql.DB) error {
		// Foreign keys cascade the room's messages.
		result, err := db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete room: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return interfaces.ErrRoomNotFound
		}
		return nil
	})
}

// Message operations.

func (m *Manager) AppendMessage(ctx context.Context, roomID, userID, content string, isFile bool, filePath string) (*types.MessageRecord, error) {
	user, err := m.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now()

	err = m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO messages (id, room_id, user_id, content, is_file, file_path, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, roomID, userID, content, isFile, nullable(filePath), now,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	clock, date := types.SplitTimestamp(now)
	return &types.MessageRecord{
		ID:        id,
		Content:   content,
		Timestamp: clock,
		Date:      date,
		Username:  user.Username,
		IsFile:    isFile,
		FilePath:  filePath,
	}, nil
}

func (m *Manager) RecentMessages(ctx context.Context, roomID string, limit int) ([]*types.MessageRecord, error) {
	// Newest rows first to honor the limit, then reordered oldest-first for
	// chronological delivery.
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, content, username, is_file, file_path, created_at FROM (
			SELECT m.id, m.content, COALESCE(u.username, '') AS username,
			       m.is_file, m.file_path, m.created_at
			FROM messages m
			LEFT JOIN users u ON u.id = m.user_id
			WHERE m.room_id = ?
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.MessageRecord
	for rows.Next() {
		var (
			record    types.MessageRecord
			filePath  sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(&record.ID, &record.Content, &record.Username, &record.IsFile, &filePath, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		record.FilePath = filePath.String
		record.Timestamp, record.Date = types.SplitTimestamp(createdAt)
		records = append(records, &record)
	}
	return records, rows.Err()
}

func (m *Manager) DeleteMessage(ctx context.Context, id string) (string, error) {
	var roomID string
	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		err = tx.QueryRowContext(ctx, `SELECT room_id FROM messages WHERE id = ?`, id).Scan(&roomID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return interfaces.ErrMessageNotFound
			}
			return fmt.Errorf("failed to locate message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// Direct message operations.

func (m *Manager) AppendDirectMessage(ctx context.Context, senderID, recipientID, content string, isFile bool, filePath string) (*types.MessageRecord, error) {
	sender, err := m.FindUserByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	recipient, err := m.FindUserByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now()

	err = m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO direct_messages (id, sender_id, recipient_id, content, is_file, file_path, is_read, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			id, senderID, recipientID, content, isFile, nullable(filePath), now,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	clock, date := types.SplitTimestamp(now)
	return &types.MessageRecord{
		ID:                id,
		Content:           content,
		Timestamp:         clock,
		Date:              date,
		SenderUsername:    sender.Username,
		RecipientUsername: recipient.Username,
		IsFile:            isFile,
		FilePath:          filePath,
	}, nil
}

func (m *Manager) DirectMessagesBetween(ctx context.Context, userID, otherID string) ([]*types.MessageRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT dm.id, dm.content, dm.is_file, dm.file_path, dm.is_read, dm.created_at,
		       COALESCE(s.username, '') AS sender_username,
		       COALESCE(r.username, '') AS recipient_username
		FROM direct_messages dm
		LEFT JOIN users s ON s.id = dm.sender_id
		LEFT JOIN users r ON r.id = dm.recipient_id
		WHERE (dm.sender_id = ? AND dm.recipient_id = ?)
		   OR (dm.sender_id = ? AND dm.recipient_id = ?)
		ORDER BY dm.created_at ASC, dm.id ASC
	`, userID, otherID, otherID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query direct messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.MessageRecord
	for rows.Next() {
		var (
			record    types.MessageRecord
			filePath  sql.NullString
			createdAt time.Time
		)
		err := rows.Scan(&record.ID, &record.Content, &record.IsFile, &filePath, &record.IsRead,
			&createdAt, &record.SenderUsername, &record.RecipientUsername)
		if err != nil {
			return nil, fmt.Errorf("failed to scan direct message row: %w", err)
		}
		record.FilePath = filePath.String
		record.Timestamp, record.Date = types.SplitTimestamp(createdAt)
		records = append(records, &record)
	}
	return records, rows.Err()
}

func (m *Manager) MarkDirectMessagesRead(ctx context.Context, recipientID, senderID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE direct_messages SET is_read = 1 WHERE recipient_id = ? AND sender_id = ? AND is_read = 0`,
			recipientID, senderID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark direct messages read: %w", err)
		}
		return nil
	})
}

func (m *Manager) UnreadCounts(ctx context.Context, recipientID string) (map[string]int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT sender_id, COUNT(*) FROM direct_messages WHERE recipient_id = ? AND is_read = 0 GROUP BY sender_id`,
		recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var senderID string
		var count int
		if err := rows.Scan(&senderID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan unread count row: %w", err)
		}
		counts[senderID] = count
	}
	return counts, rows.Err()
}

// Lifecycle.

func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

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

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ interfaces.DurableStore = (*Manager)(nil)
