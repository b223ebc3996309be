package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"go.olrik.dev/torcalc/internal/core"
)

type fakeRing map[string]bool

func (f fakeRing) Has(username string) bool { return f[username] }

func TestPrintAccounts(t *testing.T) {
	tests := []struct {
		name     string
		accounts []core.TestAccount
		ring     fakeRing
		want     string
	}{
		{
			name: "no accounts",
			want: "No test accounts configured\n",
		},
		{
			name: "mixed",
			accounts: []core.TestAccount{
				{Username: "ettore", Status: "media"},
				{Username: "triazov", Status: "developer"},
			},
			ring: fakeRing{"ettore": true},
			want: "Test accounts:\n" +
				"  - ettore (media): password stored\n" +
				"  - triazov (developer): no password\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			var out bytes.Buffer
			cmd.SetOut(&out)
			printAccounts(cmd, tt.accounts, tt.ring)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestMatchUsernames(t *testing.T) {
	accounts := []core.TestAccount{
		{Username: "triazov"},
		{Username: "ettore"},
		{Username: "tester"},
		{Username: "ettore"},
	}

	assert.Equal(t, []string{"ettore", "tester", "triazov"}, matchUsernames(accounts, ""))
	assert.Equal(t, []string{"tester", "triazov"}, matchUsernames(accounts, "T"))
	assert.Nil(t, matchUsernames(accounts, "x"))
}
