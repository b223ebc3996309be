package notify

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.olrik.dev/torcalc/internal/core"
)

type recorder struct {
	summary, body string
	err           error
}

func (r *recorder) Notify(summary, body string) error {
	r.summary, r.body = summary, body
	return r.err
}

func TestFatalMessage(t *testing.T) {
	summary, body := FatalMessage(core.Wrap(core.KindHealthTimeout, "wait for http", errors.New("not healthy")))
	assert.Equal(t, "TorCalculator failed to start", summary)
	assert.Contains(t, body, "not healthy")

	summary, _ = FatalMessage(core.Wrap(core.KindConfiguration, "check", fmt.Errorf("%w: /opt/ui", core.ErrUIAssetsMissing)))
	assert.Equal(t, "TorCalculator: UI files are missing", summary)

	_, body = FatalMessage(errors.New(strings.Repeat("x", 1000)))
	assert.Len(t, body, maxBody)
	assert.True(t, strings.HasSuffix(body, "..."))
}

func TestFatal(t *testing.T) {
	r := &recorder{err: errors.New("no session bus")}
	Fatal(r, errors.New("boom"), nil)
	assert.Equal(t, "boom", r.body)

	r = &recorder{}
	Fatal(r, nil, nil)
	assert.Empty(t, r.summary)

	assert.NoError(t, Discard{}.Notify("a", "b"))
}
