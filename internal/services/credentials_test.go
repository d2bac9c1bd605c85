package services

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCredService(t *testing.T) *CredentialService {
	return NewCredentialServiceWithKeyring(keyring.NewArrayKeyring(nil))
}

func TestCredentialService_GitSecrets(t *testing.T) {
	creds := setupCredService(t)

	t.Run("Store and retrieve", func(t *testing.T) {
		in := models.GitSecrets{AccessToken: "ghp_123"}
		require.NoError(t, creds.StoreGitSecrets("app-1", in))

		out, err := creds.GetGitSecrets("app-1")
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("Missing secrets are empty", func(t *testing.T) {
		out, err := creds.GetGitSecrets("unknown")
		require.NoError(t, err)
		assert.True(t, out.Empty())
	})

	t.Run("Storing empty secrets deletes the entry", func(t *testing.T) {
		require.NoError(t, creds.StoreGitSecrets("app-2", models.GitSecrets{Password: "pw"}))
		require.NoError(t, creds.StoreGitSecrets("app-2", models.GitSecrets{}))

		out, err := creds.GetGitSecrets("app-2")
		require.NoError(t, err)
		assert.True(t, out.Empty())
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		require.NoError(t, creds.DeleteGitSecrets("app-1"))
		require.NoError(t, creds.DeleteGitSecrets("app-1"))
	})
}

func TestCredentialService_Hydrate(t *testing.T) {
	creds := setupCredService(t)
	require.NoError(t, creds.StoreGitSecrets("app-1", models.GitSecrets{SSHPrivateKey: "KEY"}))

	stripped := &models.GitConfig{URL: "git@github.com:acme/web.git", AuthMethod: models.GitAuthSSH, IsPrivate: true}
	full, err := creds.Hydrate("app-1", stripped)
	require.NoError(t, err)
	assert.Equal(t, "KEY", full.SSHPrivateKey)
	assert.Empty(t, stripped.SSHPrivateKey, "input must not be mutated")

	none, err := creds.Hydrate("app-1", nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestNewCredentialService_FileBackend(t *testing.T) {
	creds, err := NewCredentialService(KeyringOptions{Backend: "file", Dir: t.TempDir(), Password: "test-password-123"})
	require.NoError(t, err)

	require.NoError(t, creds.StoreGitSecrets("app-1", models.GitSecrets{AccessToken: "tok"}))
	out, err := creds.GetGitSecrets("app-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", out.AccessToken)
}
