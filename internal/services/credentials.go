package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
)

const keyringService = "homelab-launchpad"

// CredentialService keeps Git secrets out of the application registry.
// Secrets are stored in a keyring under "git:<app id>".
type CredentialService struct {
	ring keyring.Keyring
}

// KeyringOptions selects the keyring backend
type KeyringOptions struct {
	// Backend is "file" (encrypted files under Dir) or "auto" (OS keychain first)
	Backend  string
	Dir      string
	Password string
}

// NewCredentialService opens the configured keyring
func NewCredentialService(opts KeyringOptions) (*CredentialService, error) {
	backends := []keyring.BackendType{keyring.FileBackend}
	if opts.Backend == "auto" {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,      // macOS Keychain
			keyring.SecretServiceBackend, // Linux Secret Service
			keyring.WinCredBackend,       // Windows Credential Manager
			keyring.FileBackend,          // Encrypted file fallback
		}
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create keyring directory: %w", err)
		}
	}

	password := opts.Password
	ring, err := keyring.Open(keyring.Config{
		ServiceName:     keyringService,
		AllowedBackends: backends,
		FileDir:         opts.Dir,
		FilePasswordFunc: func(prompt string) (string, error) {
			if password == "" {
				return "", errors.New("KEYRING_PASSWORD is required for the file keyring backend")
			}
			return password, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	return &CredentialService{ring: ring}, nil
}

// NewCredentialServiceWithKeyring wraps an already opened keyring
func NewCredentialServiceWithKeyring(ring keyring.Keyring) *CredentialService {
	return &CredentialService{ring: ring}
}

func gitKey(appID string) string {
	return "git:" + appID
}

// StoreGitSecrets stores the secrets for an application, removing the entry when they are empty
func (s *CredentialService) StoreGitSecrets(appID string, secrets models.GitSecrets) error {
	if secrets.Empty() {
		return s.DeleteGitSecrets(appID)
	}

	data, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	item := keyring.Item{
		Key:         gitKey(appID),
		Data:        data,
		Label:       "launchpad git credentials",
		Description: "Git credentials for application " + appID,
	}
	if err := s.ring.Set(item); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// GetGitSecrets returns the stored secrets for an application; empty secrets if none are stored
func (s *CredentialService) GetGitSecrets(appID string) (models.GitSecrets, error) {
	var secrets models.GitSecrets

	item, err := s.ring.Get(gitKey(appID))
	if err != nil {
		if isKeyNotFound(err) {
			return secrets, nil
		}
		return secrets, fmt.Errorf("failed to retrieve credentials: %w", err)
	}

	if err := json.Unmarshal(item.Data, &secrets); err != nil {
		return secrets, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return secrets, nil
}

// DeleteGitSecrets removes an application's secrets; deleting absent secrets is not an error
func (s *CredentialService) DeleteGitSecrets(appID string) error {
	if err := s.ring.Remove(gitKey(appID)); err != nil {
		if isKeyNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// Hydrate returns a copy of cfg carrying the secrets stored for appID
func (s *CredentialService) Hydrate(appID string, cfg *models.GitConfig) (*models.GitConfig, error) {
	if cfg == nil {
		return nil, nil
	}
	secrets, err := s.GetGitSecrets(appID)
	if err != nil {
		return nil, err
	}
	return cfg.WithSecrets(secrets), nil
}

func isKeyNotFound(err error) bool {
	if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, os.ErrNotExist) {
		return true
	}
	// File backend may return "no such file" error instead of ErrKeyNotFound
	msg := err.Error()
	return strings.Contains(msg, "no such file") || strings.Contains(msg, "not found")
}
