// Package credstore persists the OAuth credentials the portal session
// was authorized with. The engine only consults it at startup; cycles
// themselves run against an already-authorized browser session.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const credentialsFileName = "credentials.json"

// Credentials is one stored OAuth grant.
type Credentials struct {
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Expired reports whether the access token is past its expiry. A zero
// expiry is treated as non-expiring.
func (c Credentials) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}

// Store reads and writes credentials at a fixed filesystem path.
type Store struct {
	path string
}

// DefaultPath returns ~/.mailcycle/credentials.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(home, ".mailcycle", credentialsFileName), nil
}

// New creates a store for the given path; empty uses DefaultPath.
func New(path string) (*Store, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		resolved, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		clean = resolved
	}
	return &Store{path: filepath.Clean(clean)}, nil
}

// Load reads the stored credentials. The boolean is false when no
// credentials file exists yet.
func (s *Store) Load() (Credentials, bool, error) {
	// #nosec G304 -- path fixed at store construction.
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, fmt.Errorf("reading credentials %q: %w", s.path, err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, false, fmt.Errorf("parsing credentials %q: %w", s.path, err)
	}
	if strings.TrimSpace(creds.AccessToken) == "" {
		return Credentials{}, false, fmt.Errorf("credentials %q: access_token is empty", s.path)
	}
	return creds, true, nil
}

// Save writes credentials with owner-only permissions, creating the
// parent directory when needed.
func (s *Store) Save(creds Credentials) error {
	if strings.TrimSpace(creds.AccessToken) == "" {
		return errors.New("credentials access_token is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials %q: %w", s.path, err)
	}
	return nil
}

// Path returns the file path the store operates on.
func (s *Store) Path() string {
	return s.path
}
