package db

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.olrik.dev/torcalc/internal/core"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// csvHeader is the spreadsheet header row ("Amount;Comment;Date")
const csvHeader = "Сумма;Комментарий;Дата"

const utf8BOM = "\ufeff"

// Export describes a written export file
type Export struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// Backup is the JSON backup document
type Backup struct {
	App          string        `json:"app"`
	Version      string        `json:"version"`
	ExportedAt   string        `json:"exportedAt"`
	Transactions []Transaction `json:"transactions"`
}

// DefaultExportName is the suggested file name for an export made at t
func DefaultExportName(format Format, t time.Time) string {
	date := t.Format(time.DateOnly)
	if format == FormatJSON {
		return fmt.Sprintf("tor-calculator-backup-%s.json", date)
	}
	return fmt.Sprintf("tor-calculator-export-%s.csv", date)
}

// ExportCSV writes all transactions to path as ';'-separated UTF-8 with a
// BOM. An empty path means the user cancelled the save dialog.
func (db *DB) ExportCSV(path string) (res Result[Export]) {
	defer recoverResult(db.logger, "export csv", &res)
	return db.export(path, "export csv", func(w io.Writer, items []Transaction) error {
		return WriteCSV(w, items)
	})
}

// ExportJSON writes a backup document of all transactions to path
func (db *DB) ExportJSON(path string) (res Result[Export]) {
	defer recoverResult(db.logger, "export json", &res)
	exportedAt := db.clock.Now().UTC().Format(TimestampLayout)
	return db.export(path, "export json", func(w io.Writer, items []Transaction) error {
		return WriteBackup(w, Backup{
			App:          core.AppName,
			Version:      core.FormatVersion(core.Version),
			ExportedAt:   exportedAt,
			Transactions: items,
		})
	})
}

func (db *DB) export(path, op string, write func(io.Writer, []Transaction) error) Result[Export] {
	if strings.TrimSpace(path) == "" {
		return failure[Export](CodeCancelled)
	}

	if err := db.lock(); err != nil {
		return internal[Export](db.logger, op, err)
	}
	items, err := db.queryTransactions()
	db.mu.Unlock()
	if err != nil {
		return internal[Export](db.logger, op, err)
	}

	if err := writeFile(path, func(w io.Writer) error { return write(w, items) }); err != nil {
		return internal[Export](db.logger, op, err)
	}
	db.logger.Info("Exported transactions", "path", path, "count", len(items))
	return success(Export{Path: path, Count: len(items)})
}

// writeFile writes through a temporary file in the target directory and
// renames it into place
func writeFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to create export file: %w", err)
	}

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move export file into place: %w", err)
	}
	return nil
}

// WriteCSV renders transactions in the spreadsheet export format. Lines are
// joined by "\n" with no trailing newline.
func WriteCSV(w io.Writer, items []Transaction) error {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	buf.WriteString(csvHeader)
	for _, tx := range items {
		buf.WriteByte('\n')
		buf.WriteString(FormatAmount(tx.Amount))
		buf.WriteByte(';')
		buf.WriteString(csvComment(tx.Comment))
		buf.WriteByte(';')
		buf.WriteString(tx.CreatedAt)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// csvComment flattens line breaks, doubles quotes and quotes the field when
// it holds a delimiter or a quote
func csvComment(comment string) string {
	comment = strings.NewReplacer("\n", " ", "\r", " ").Replace(comment)
	comment = strings.ReplaceAll(comment, `"`, `""`)
	if strings.ContainsAny(comment, `;"`) {
		comment = `"` + comment + `"`
	}
	return comment
}

// FormatAmount writes a float the way the export format expects: the
// shortest round-trip digits, always with a fractional part ("100.0"), and
// exponent notation outside [1e-4, 1e16).
func FormatAmount(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// WriteBackup renders the backup document as indented JSON without HTML or
// non-ASCII escaping
func WriteBackup(w io.Writer, backup Backup) error {
	if backup.Transactions == nil {
		backup.Transactions = []Transaction{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(backup); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	_, err := w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return err
}
