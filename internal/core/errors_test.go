package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("launch: %w", Wrap(KindHealthTimeout, "wait", base))

	assert.Equal(t, KindHealthTimeout, KindOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, KindUnknown, KindOf(base))
	assert.Nil(t, Wrap(KindStore, "noop", nil))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(Errorf(KindConfiguration, "ui", "UI folder not found: %w", ErrUIAssetsMissing)))
	assert.Equal(t, 1, ExitCode(Errorf(KindConfiguration, "node", "node too old")))
	assert.Equal(t, 1, ExitCode(errors.New("anything")))
}

func TestKindRecoverable(t *testing.T) {
	assert.True(t, KindPortConflict.Recoverable())
	assert.True(t, KindStaleLock.Recoverable())
	assert.True(t, KindStore.Recoverable())
	assert.False(t, KindHealthTimeout.Recoverable())
	assert.False(t, KindChildProcess.Recoverable())
	assert.False(t, KindConfiguration.Recoverable())
	assert.Equal(t, "port_conflict", KindPortConflict.String())
}
