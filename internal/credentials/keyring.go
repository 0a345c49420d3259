package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	pkgerrors "netaccess/pkg/errors"
)

// Service is the keyring service all portal passwords live under.
const Service = "netaccess-usermanager"

// Store keeps portal passwords in the OS keyring, keyed by username.
type Store struct {
	service string
}

// NewStore returns a store bound to Service.
func NewStore() *Store {
	return &Store{service: Service}
}

// Add saves or replaces the password for username.
func (s *Store) Add(username, password string) error {
	if username == "" {
		return pkgerrors.ErrNoUsername
	}
	if password == "" {
		return pkgerrors.ErrNoPassword
	}
	if err := keyring.Set(s.service, username, password); err != nil {
		return fmt.Errorf("failed to store password for %s: %w", username, err)
	}
	return nil
}

// Update replaces the password of an existing user.
func (s *Store) Update(username, password string) error {
	if _, err := s.Get(username); err != nil {
		return err
	}
	return s.Add(username, password)
}

// Get returns the stored password. Unknown users yield ErrUserNotFound.
func (s *Store) Get(username string) (string, error) {
	password, err := keyring.Get(s.service, username)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", username, pkgerrors.ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read password for %s: %w", username, err)
	}
	return password, nil
}

// Delete removes the stored password. Deleting an unknown user succeeds.
func (s *Store) Delete(username string) error {
	err := keyring.Delete(s.service, username)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("failed to delete password for %s: %w", username, err)
}
