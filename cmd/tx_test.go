package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.olrik.dev/torcalc/internal/db"
)

// run executes the root command with args against dataDir and returns stdout
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--data-dir=" + dataDir}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestTx_AddListDelete(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "tx", "add", "150", "weekly", "groceries")
	require.NoError(t, err)
	assert.Contains(t, out, "Added transaction")

	_, err = run(t, dir, "tx", "add", "--", "-20.5")
	require.NoError(t, err)

	out, err = run(t, dir, "tx", "list", "--json")
	require.NoError(t, err)
	var items []db.Transaction
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 2)
	assert.Equal(t, -20.5, items[0].Amount, "newest first")
	assert.Equal(t, "weekly groceries", items[1].Comment)

	out, err = run(t, dir, "tx", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "129.5")
	assert.Contains(t, out, "total")

	out, err = run(t, dir, "tx", "delete", jsonID(items[0].ID))
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted transaction")

	out, err = run(t, dir, "tx", "delete", jsonID(items[0].ID))
	require.NoError(t, err)
	assert.Contains(t, out, "No transaction with id")
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestTx_AddInvalidAmount(t *testing.T) {
	_, err := run(t, t.TempDir(), "tx", "add", "twelve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_AMOUNT")
}

func TestTx_DeleteInvalidID(t *testing.T) {
	_, err := run(t, t.TempDir(), "tx", "delete", "abc")
	require.Error(t, err)
}

func TestTx_ClearNeedsConfirmation(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "tx", "add", "1")
	require.NoError(t, err)

	_, err = run(t, dir, "tx", "clear")
	require.Error(t, err)

	out, err := run(t, dir, "tx", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 transactions")

	out, err = run(t, dir, "tx", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No transactions")
}

func TestTx_Export(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "tx", "add", "42", "a;b")
	require.NoError(t, err)

	csvPath := filepath.Join(t.TempDir(), "out.csv")
	out, err := run(t, dir, "tx", "export", "--output", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 transactions")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\ufeff"))
	assert.Contains(t, string(data), `42.0;"a;b";`)

	jsonPath := filepath.Join(t.TempDir(), "backup.json")
	_, err = run(t, dir, "tx", "export", "-f", "json", "-o", jsonPath)
	require.NoError(t, err)
	var backup db.Backup
	data, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &backup))
	assert.Len(t, backup.Transactions, 1)

	_, err = run(t, dir, "tx", "export", "--format", "xml")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "TorCalculator "))
}
