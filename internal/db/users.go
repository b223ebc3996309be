package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// User is a test-auth account as reported to the UI
type User struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// Account is a test-auth account to seed, with its clear-text password
type Account struct {
	Username string
	Password string
	Status   string
}

// NormalizeUsername trims and lowercases a login name
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Login checks a username and password against the users table
func (db *DB) Login(username, password string) (res Result[User]) {
	defer recoverResult(db.logger, "login", &res)

	name := NormalizeUsername(username)
	if name == "" || password == "" {
		return failure[User](CodeEmptyCredentials)
	}

	if err := db.lock(); err != nil {
		return internal[User](db.logger, "login", err)
	}
	var hash string
	u := User{}
	err := db.conn.QueryRow(
		"SELECT username, password_hash, status FROM users WHERE username = ?", name,
	).Scan(&u.Username, &hash, &u.Status)
	db.mu.Unlock()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return failure[User](CodeInvalidCredentials)
	case err != nil:
		return internal[User](db.logger, "login", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return failure[User](CodeInvalidCredentials)
	}
	return success(u)
}

// EnsureTestAccounts seeds test-auth accounts. An existing account keeps its
// hash while the password still matches; status always follows the input.
// Accounts without a password are skipped.
func (db *DB) EnsureTestAccounts(accounts []Account) (res Result[int]) {
	defer recoverResult(db.logger, "ensure test accounts", &res)
	if err := db.lock(); err != nil {
		return internal[int](db.logger, "ensure test accounts", err)
	}
	defer db.mu.Unlock()

	ensured := 0
	for _, a := range accounts {
		name := NormalizeUsername(a.Username)
		if name == "" || a.Password == "" {
			db.logger.Warn("Skipping test account without password", "username", a.Username)
			continue
		}
		if err := db.ensureAccount(name, a.Password, a.Status); err != nil {
			return internal[int](db.logger, "ensure test accounts", err)
		}
		ensured++
	}
	db.logger.Info("Test auth enabled", "accounts", ensured)
	return success(ensured)
}

func (db *DB) ensureAccount(name, password, status string) error {
	var existing string
	err := db.conn.QueryRow("SELECT password_hash FROM users WHERE username = ?", name).Scan(&existing)
	if err == nil && bcrypt.CompareHashAndPassword([]byte(existing), []byte(password)) == nil {
		_, err = db.conn.Exec("UPDATE users SET status = ? WHERE username = ?", status, name)
		return err
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password for %s: %w", name, err)
	}
	_, err = db.conn.Exec(
		`INSERT INTO users(username, password_hash, status) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash, status = excluded.status`,
		name, string(hash), status,
	)
	return err
}
