package db

import (
	"math"
	"strconv"
	"strings"
)

// TimestampLayout is the created_at format: UTC ISO-8601 with microseconds
// and an explicit offset. Values sort lexically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// Transaction is one calculator entry
type Transaction struct {
	ID        int64   `json:"id"`
	Amount    float64 `json:"amount"`
	Comment   string  `json:"comment"`
	CreatedAt string  `json:"createdAt"`
}

// ParseAmount reads a decimal amount. Non-finite values are rejected.
func ParseAmount(text string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ListTransactions returns every transaction, newest first
func (db *DB) ListTransactions() (res Result[[]Transaction]) {
	defer recoverResult(db.logger, "list transactions", &res)
	if err := db.lock(); err != nil {
		return internal[[]Transaction](db.logger, "list transactions", err)
	}
	defer db.mu.Unlock()

	items, err := db.queryTransactions()
	if err != nil {
		return internal[[]Transaction](db.logger, "list transactions", err)
	}
	return success(items)
}

// queryTransactions reads all rows; the caller holds the lock
func (db *DB) queryTransactions() ([]Transaction, error) {
	rows, err := db.conn.Query(
		`SELECT id, amount, comment, created_at FROM transactions
		 ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Transaction{}
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.Amount, &tx.Comment, &tx.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, tx)
	}
	return items, rows.Err()
}

// AddTransaction records an amount given as text with an optional comment.
// The amount must parse as a finite number (INVALID_AMOUNT otherwise).
func (db *DB) AddTransaction(amount, comment string) (res Result[Transaction]) {
	defer recoverResult(db.logger, "add transaction", &res)

	value, valid := ParseAmount(amount)
	if !valid {
		return failure[Transaction](CodeInvalidAmount)
	}

	if err := db.lock(); err != nil {
		return internal[Transaction](db.logger, "add transaction", err)
	}
	defer db.mu.Unlock()

	now := db.clock.Now()
	tx := Transaction{
		ID:        db.nextID(now.UnixMilli()),
		Amount:    value,
		Comment:   strings.TrimSpace(comment),
		CreatedAt: now.UTC().Format(TimestampLayout),
	}

	_, err := db.conn.Exec(
		"INSERT INTO transactions(id, amount, comment, created_at) VALUES (?, ?, ?, ?)",
		tx.ID, tx.Amount, tx.Comment, tx.CreatedAt,
	)
	if err != nil {
		return internal[Transaction](db.logger, "add transaction", err)
	}
	return success(tx)
}

// nextID keeps ids strictly increasing when several adds land in one
// millisecond or the clock steps back
func (db *DB) nextID(millis int64) int64 {
	if millis <= db.lastID {
		millis = db.lastID + 1
	}
	db.lastID = millis
	return millis
}

// DeleteTransaction removes one transaction and reports how many rows went
func (db *DB) DeleteTransaction(id int64) (res Result[int64]) {
	defer recoverResult(db.logger, "delete transaction", &res)
	if err := db.lock(); err != nil {
		return internal[int64](db.logger, "delete transaction", err)
	}
	defer db.mu.Unlock()

	r, err := db.conn.Exec("DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return internal[int64](db.logger, "delete transaction", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return internal[int64](db.logger, "delete transaction", err)
	}
	return success(n)
}

// ClearTransactions removes every transaction
func (db *DB) ClearTransactions() (res Result[int64]) {
	defer recoverResult(db.logger, "clear transactions", &res)
	if err := db.lock(); err != nil {
		return internal[int64](db.logger, "clear transactions", err)
	}
	defer db.mu.Unlock()

	r, err := db.conn.Exec("DELETE FROM transactions")
	if err != nil {
		return internal[int64](db.logger, "clear transactions", err)
	}
	n, _ := r.RowsAffected()
	return success(n)
}
