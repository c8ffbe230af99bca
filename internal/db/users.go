package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// AddUser records a user the first time they open the app. Repeated calls are
// no-ops.
func AddUser(db *sql.DB, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO users(user_id) VALUES(?)`, userID); err != nil {
		return fmt.Errorf("add user %s: %w", userID, err)
	}
	return nil
}

func ListUsers(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT user_id FROM users ORDER BY joined_at ASC, user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func CountUsers(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(1) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
