package cmd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.olrik.dev/torcalc/internal/core"
	"go.olrik.dev/torcalc/internal/db"
	tkeyring "go.olrik.dev/torcalc/internal/keyring"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedTestAccounts(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	ring := tkeyring.NewWithKeyring(keyring.NewArrayKeyring([]keyring.Item{
		{Key: "ettore", Data: []byte("secret")},
	}))
	accounts := []core.TestAccount{
		{Username: "ettore", Status: "media"},
		{Username: "triazov", Status: "developer"},
	}

	n := seedTestAccounts(store, ring, accounts, discardLogger())
	assert.Equal(t, 1, n, "account without a stored password is skipped")

	res := store.Login("ettore", "secret")
	require.True(t, res.OK(), res.String())
	assert.Equal(t, "media", res.Value.Status)

	assert.Equal(t, db.CodeInvalidCredentials, store.Login("triazov", "anything").Code)
}

func TestSeedTestAccounts_NoPasswords(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	ring := tkeyring.NewWithKeyring(keyring.NewArrayKeyring(nil))
	n := seedTestAccounts(store, ring, []core.TestAccount{{Username: "ettore", Status: "media"}}, discardLogger())
	assert.Equal(t, 0, n)
}

func TestExportDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := &core.Configuration{DataDir: "/data"}

	assert.Equal(t, "/data", exportDir(cfg), "no Downloads folder")

	downloads := filepath.Join(home, "Downloads")
	require.NoError(t, os.Mkdir(downloads, 0o755))
	assert.Equal(t, downloads, exportDir(cfg))
}

func TestLaunchOverridesOnlyChangedFlags(t *testing.T) {
	f := &launchFlags{}
	cmd := &cobra.Command{Use: "launch"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "4000", "--shell", "none", "--dev"}))

	o := f.overrides(cmd)
	require.NotNil(t, o.Port)
	assert.Equal(t, 4000, *o.Port)
	require.NotNil(t, o.Shell)
	assert.Equal(t, "none", *o.Shell)
	require.NotNil(t, o.Dev)
	assert.True(t, *o.Dev)
	assert.Nil(t, o.Host)
	assert.Nil(t, o.UITimeout)
	assert.Nil(t, o.UIRoot)
}
