package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SQLiteStore persists pairs in the kv_store table under one namespace.
// A Quota of zero means unlimited.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
	Quota     int64
}

func NewSQLiteStore(db *sql.DB, namespace string, quota int64) (*SQLiteStore, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, fmt.Errorf("kv namespace is required")
	}
	return &SQLiteStore{db: db, namespace: namespace, Quota: quota}, nil
}

func (s *SQLiteStore) Namespace() string { return s.namespace }

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE namespace = ? AND key = ?`, s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get kv %s/%s: %w", s.namespace, key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetMany(ctx context.Context, pairs map[string]string) error {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("kv key is required")
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin kv tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.Quota > 0 {
		used, err := s.usageExcluding(ctx, tx, keys)
		if err != nil {
			return err
		}
		for _, k := range keys {
			used += usage(k, pairs[k])
		}
		if used > s.Quota {
			return fmt.Errorf("write %d bytes over quota %d for %s: %w", used, s.Quota, s.namespace, ErrQuotaExceeded)
		}
	}

	for _, k := range keys {
		_, err := tx.ExecContext(ctx, `
INSERT INTO kv_store(namespace, key, value, updated_at)
VALUES(?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(namespace, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, s.namespace, k, pairs[k])
		if err != nil {
			return fmt.Errorf("set kv %s/%s: %w", s.namespace, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit kv tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE namespace = ? AND key = ?`, s.namespace, key); err != nil {
		return fmt.Errorf("delete kv %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

func (s *SQLiteStore) usageExcluding(ctx context.Context, tx *sql.Tx, keys []string) (int64, error) {
	query := `SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM kv_store WHERE namespace = ?`
	args := []any{s.namespace}
	if len(keys) > 0 {
		query += ` AND key NOT IN (?` + strings.Repeat(`, ?`, len(keys)-1) + `)`
		for _, k := range keys {
			args = append(args, k)
		}
	}
	var used int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&used); err != nil {
		return 0, fmt.Errorf("measure kv usage for %s: %w", s.namespace, err)
	}
	return used, nil
}
