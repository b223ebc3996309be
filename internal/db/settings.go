package db

import (
	"database/sql"
	"errors"
)

// Setting is a value from the settings table. Found is false for a key
// that was never set.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// GetSetting reads one settings value
func (db *DB) GetSetting(key string) (res Result[Setting]) {
	defer recoverResult(db.logger, "get setting", &res)
	if err := db.lock(); err != nil {
		return internal[Setting](db.logger, "get setting", err)
	}
	defer db.mu.Unlock()

	s := Setting{Key: key}
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&s.Value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return success(s)
	case err != nil:
		return internal[Setting](db.logger, "get setting", err)
	}
	s.Found = true
	return success(s)
}

// SetSetting stores or replaces one settings value
func (db *DB) SetSetting(key, value string) (res Result[Setting]) {
	defer recoverResult(db.logger, "set setting", &res)
	if err := db.lock(); err != nil {
		return internal[Setting](db.logger, "set setting", err)
	}
	defer db.mu.Unlock()

	_, err := db.conn.Exec(
		`INSERT INTO settings(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return internal[Setting](db.logger, "set setting", err)
	}
	return success(Setting{Key: key, Value: value, Found: true})
}
