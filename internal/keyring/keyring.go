// Package keyring keeps test-account passwords in the OS keyring.
package keyring

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName is the keyring service holding test-auth passwords
const ServiceName = "torcalc-test-auth"

// ErrNotFound is returned when no password is stored for a username
var ErrNotFound = errors.New("no password stored")

// Store reads and writes passwords keyed by username
type Store struct {
	open func() (keyring.Keyring, error)

	once sync.Once
	ring keyring.Keyring
	err  error
}

// New opens the OS keyring lazily on first use
func New() *Store {
	return &Store{open: openSystem}
}

// NewWithKeyring wraps an already open keyring
func NewWithKeyring(ring keyring.Keyring) *Store {
	return &Store{open: func() (keyring.Keyring, error) { return ring, nil }}
}

func openSystem() (keyring.Keyring, error) {
	return keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		// No file backend: it would prompt for its own passphrase
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,      // macOS Keychain
			keyring.SecretServiceBackend, // Linux Secret Service (GNOME Keyring, KWallet)
			keyring.WinCredBackend,       // Windows Credential Manager
			keyring.PassBackend,          // Pass (password-store.org)
		},
	})
}

func (s *Store) keyring() (keyring.Keyring, error) {
	s.once.Do(func() {
		s.ring, s.err = s.open()
	})
	if s.err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", s.err)
	}
	return s.ring, nil
}

// Set stores the password for username
func (s *Store) Set(username, password string) error {
	kr, err := s.keyring()
	if err != nil {
		return err
	}
	return kr.Set(keyring.Item{
		Key:   username,
		Data:  []byte(password),
		Label: "TorCalculator test account " + username,
	})
}

// Get returns the password for username, or ErrNotFound
func (s *Store) Get(username string) (string, error) {
	kr, err := s.keyring()
	if err != nil {
		return "", err
	}

	item, err := kr.Get(username)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve password: %w", err)
	}
	return string(item.Data), nil
}

// Delete removes the password for username
func (s *Store) Delete(username string) error {
	kr, err := s.keyring()
	if err != nil {
		return err
	}

	// Not every backend reports a missing key on Remove
	if _, err := kr.Get(username); errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w for '%s'", ErrNotFound, username)
	}
	return kr.Remove(username)
}

// Has checks if a password is stored for username
func (s *Store) Has(username string) bool {
	_, err := s.Get(username)
	return err == nil
}

// Usernames lists the accounts with a stored password, sorted
func (s *Store) Usernames() ([]string, error) {
	kr, err := s.keyring()
	if err != nil {
		return nil, err
	}
	keys, err := kr.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keyring entries: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
