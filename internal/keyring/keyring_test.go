package keyring

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetDelete(t *testing.T) {
	s := NewWithKeyring(keyring.NewArrayKeyring(nil))

	_, err := s.Get("ettore")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, s.Has("ettore"))

	require.NoError(t, s.Set("ettore", "secret"))
	got, err := s.Get("ettore")
	require.NoError(t, err)
	assert.Equal(t, "secret", got)
	assert.True(t, s.Has("ettore"))

	require.NoError(t, s.Delete("ettore"))
	assert.ErrorIs(t, s.Delete("ettore"), ErrNotFound)
}

func TestStore_Usernames(t *testing.T) {
	s := NewWithKeyring(keyring.NewArrayKeyring([]keyring.Item{
		{Key: "triazov", Data: []byte("a")},
		{Key: "ettore", Data: []byte("b")},
	}))

	names, err := s.Usernames()
	require.NoError(t, err)
	assert.Equal(t, []string{"ettore", "triazov"}, names)
}

func TestStore_OpenFailureIsSticky(t *testing.T) {
	calls := 0
	s := &Store{open: func() (keyring.Keyring, error) {
		calls++
		return nil, errors.New("no backend")
	}}

	assert.ErrorContains(t, s.Set("a", "b"), "failed to open keyring")
	_, err := s.Get("a")
	assert.Error(t, err)
	assert.False(t, s.Has("a"))
	assert.Equal(t, 1, calls)
}
