package database

import (
	"database/sql"
	"fmt"
)

// ValidateSchema checks that the tables and indexes the store relies on
// exist, catching a database file created by an older or foreign schema
// before the service starts serving requests.
func ValidateSchema(db *sql.DB) error {
	requiredTables := []string{"users", "rooms", "messages", "direct_messages"}
	for _, table := range requiredTables {
		exists, err := objectExists(db, "table", table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	requiredIndexes := []string{
		"idx_users_username",
		"idx_messages_room_time",
		"idx_direct_messages_thread",
		"idx_direct_messages_unread",
	}
	for _, index := range requiredIndexes {
		exists, err := objectExists(db, "index", index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func objectExists(db *sql.DB, kind, name string) (bool, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`,
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
