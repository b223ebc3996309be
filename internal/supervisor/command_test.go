package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.olrik.dev/torcalc/internal/core"
)

func TestArgv(t *testing.T) {
	spec := Spec{Dir: "/opt/torcalc/ui", Port: 3001, Dev: true}

	assert.Equal(t,
		[]string{"pnpm", "-C", "/opt/torcalc/ui", "dev", "--", "-p", "3001"},
		PNPM.Argv(spec))

	spec.Dev = false
	assert.Equal(t,
		[]string{"npm", "--prefix", "/opt/torcalc/ui", "run", "start", "--", "-p", "3001"},
		NPM.Argv(spec))
}

func TestPickPackageManager(t *testing.T) {
	onPath := func(names ...string) func(string) (string, error) {
		return func(name string) (string, error) {
			for _, n := range names {
				if n == name {
					return "/usr/bin/" + name, nil
				}
			}
			return "", exec.ErrNotFound
		}
	}

	pm, err := PickPackageManager(onPath("pnpm", "npm"), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, PNPM, pm)

	pm, err = PickPackageManager(onPath("npm"), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, NPM, pm)

	_, err = PickPackageManager(onPath(), slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPackageManager)
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
}

func TestParseNodeMajor(t *testing.T) {
	tests := []struct {
		in    string
		major int
		ok    bool
	}{
		{"v20.11.1", 20, true},
		{"v18.0.0\n", 18, true},
		{"16.20.2", 16, true},
		{"vNext", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		major, ok := ParseNodeMajor(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.major, major, tt.in)
	}
}

func withNodeVersion(t *testing.T, out string, err error) {
	t.Helper()
	orig := nodeVersion
	nodeVersion = func(context.Context) (string, error) { return out, err }
	t.Cleanup(func() { nodeVersion = orig })
}

func TestCheckNodeVersion(t *testing.T) {
	ctx := context.Background()

	withNodeVersion(t, "v20.11.1", nil)
	assert.NoError(t, CheckNodeVersion(ctx, 18, slog.Default()))

	withNodeVersion(t, "v16.20.2", nil)
	err := CheckNodeVersion(ctx, 18, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too old")
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))

	withNodeVersion(t, "weird-build", nil)
	assert.NoError(t, CheckNodeVersion(ctx, 18, slog.Default()), "unparseable versions only warn")

	withNodeVersion(t, "", exec.ErrNotFound)
	err = CheckNodeVersion(ctx, 18, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Node.js not found")

	withNodeVersion(t, "", errors.New("exit status 1"))
	assert.Error(t, CheckNodeVersion(ctx, 18, slog.Default()))
}

func TestChildEnv(t *testing.T) {
	env := childEnv([]string{"PATH=/bin"}, Spec{Port: 3002, Dev: true, Env: map[string]string{
		"TORCALC_API_URL": "http://127.0.0.1:4000",
	}})
	assert.Contains(t, env, "PATH=/bin")
	assert.Contains(t, env, "NODE_ENV=development")
	assert.Contains(t, env, "PORT=3002")
	assert.Contains(t, env, "TORCALC_API_URL=http://127.0.0.1:4000")

	env = childEnv([]string{"NODE_ENV=test"}, Spec{Port: 3002})
	assert.Contains(t, env, "NODE_ENV=test", "an inherited NODE_ENV is kept")
	assert.NotContains(t, env, "NODE_ENV=production")

	env = childEnv(nil, Spec{Port: 3002})
	assert.Contains(t, env, "NODE_ENV=production")
}
