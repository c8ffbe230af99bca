package service

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Settings stored in the app_config table. They override the config file.
const (
	ConfigEstimatorModel   = "estimator_model"
	ConfigHistoryTolerance = "history_tolerance"
	ConfigKeepOnTruncate   = "keep_on_truncate"
	ConfigQuotaBytes       = "quota_bytes"
)

var configValidators = map[string]func(string) error{
	ConfigEstimatorModel: func(v string) error {
		if strings.ContainsAny(v, " /?#") {
			return fmt.Errorf("model name %q contains invalid characters", v)
		}
		return nil
	},
	ConfigHistoryTolerance: func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("tolerance must be a number between 0 and 1")
		}
		return nil
	},
	ConfigKeepOnTruncate: func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("keep_on_truncate must be an integer >= 1")
		}
		return nil
	},
	ConfigQuotaBytes: func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("quota_bytes must be an integer >= 0")
		}
		return nil
	},
}

func ConfigKeys() []string {
	return []string{ConfigEstimatorModel, ConfigHistoryTolerance, ConfigKeepOnTruncate, ConfigQuotaBytes}
}

func SetConfig(db *sql.DB, key, value string) error {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return fmt.Errorf("config key is required")
	}
	validate, ok := configValidators[key]
	if !ok {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(ConfigKeys(), ", "))
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("config value is required")
	}
	if err := validate(value); err != nil {
		return err
	}
	_, err := db.Exec(`
INSERT INTO app_config(key, value, updated_at)
VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value)
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

func GetConfig(db *sql.DB, key string) (string, bool, error) {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return "", false, fmt.Errorf("config key is required")
	}
	var value string
	err := db.QueryRow(`SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %q: %w", key, err)
	}
	return value, true, nil
}

func UnsetConfig(db *sql.DB, key string) error {
	key = strings.TrimSpace(strings.ToLower(key))
	if _, err := db.Exec(`DELETE FROM app_config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("unset config %q: %w", key, err)
	}
	return nil
}

func ListConfig(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM app_config ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config: %w", err)
	}
	return out, nil
}
