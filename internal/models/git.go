package models

// GitProvider is the hosting service inferred from a repository URL
type GitProvider string

const (
	GitProviderGitHub    GitProvider = "github"
	GitProviderGitLab    GitProvider = "gitlab"
	GitProviderBitbucket GitProvider = "bitbucket"
	GitProviderOther     GitProvider = "other"
)

// GitAuthMethod selects how a private repository is authenticated
type GitAuthMethod string

const (
	GitAuthNone             GitAuthMethod = "none"
	GitAuthToken            GitAuthMethod = "token"
	GitAuthSSH              GitAuthMethod = "ssh"
	GitAuthUsernamePassword GitAuthMethod = "username_password"
)

// GitConfig describes the Git source of an application.
// Secrets are never written to the application registry; the credential service holds them.
type GitConfig struct {
	URL        string        `json:"url"`
	Branch     string        `json:"branch"`
	Provider   GitProvider   `json:"provider"`
	IsPrivate  bool          `json:"is_private"`
	AuthMethod GitAuthMethod `json:"auth_method"`
	Username   string        `json:"username,omitempty"`

	AccessToken   string `json:"access_token,omitempty"`
	Password      string `json:"password,omitempty"`
	SSHPrivateKey string `json:"ssh_private_key,omitempty"`
}

// GitSecrets is the secret part of a GitConfig
type GitSecrets struct {
	AccessToken   string `json:"access_token,omitempty"`
	Password      string `json:"password,omitempty"`
	SSHPrivateKey string `json:"ssh_private_key,omitempty"`
}

// Empty reports whether no secret is set
func (s GitSecrets) Empty() bool {
	return s.AccessToken == "" && s.Password == "" && s.SSHPrivateKey == ""
}

// Secrets returns the secret fields of the config
func (g *GitConfig) Secrets() GitSecrets {
	return GitSecrets{
		AccessToken:   g.AccessToken,
		Password:      g.Password,
		SSHPrivateKey: g.SSHPrivateKey,
	}
}

// WithSecrets returns a copy of the config carrying the given secrets
func (g *GitConfig) WithSecrets(s GitSecrets) *GitConfig {
	cp := *g
	cp.AccessToken = s.AccessToken
	cp.Password = s.Password
	cp.SSHPrivateKey = s.SSHPrivateKey
	return &cp
}

// Stripped returns a copy of the config without secrets
func (g *GitConfig) Stripped() *GitConfig {
	return g.WithSecrets(GitSecrets{})
}

// GitConfigView is the redacted representation returned to API callers
type GitConfigView struct {
	URL            string        `json:"url"`
	Branch         string        `json:"branch"`
	Provider       GitProvider   `json:"provider"`
	IsPrivate      bool          `json:"is_private"`
	AuthMethod     GitAuthMethod `json:"auth_method"`
	Username       string        `json:"username,omitempty"`
	HasAccessToken bool          `json:"has_access_token"`
	HasPassword    bool          `json:"has_password"`
	HasSSHKey      bool          `json:"has_ssh_key"`
}

// View returns the redacted view of the config
func (g *GitConfig) View() GitConfigView {
	return GitConfigView{
		URL:            g.URL,
		Branch:         g.Branch,
		Provider:       g.Provider,
		IsPrivate:      g.IsPrivate,
		AuthMethod:     g.AuthMethod,
		Username:       g.Username,
		HasAccessToken: g.AccessToken != "",
		HasPassword:    g.Password != "",
		HasSSHKey:      g.SSHPrivateKey != "",
	}
}
