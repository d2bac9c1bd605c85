package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/process"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// ErrInvalidGitConfig is returned when a Git configuration fails validation
var ErrInvalidGitConfig = errors.New("invalid git configuration")

const (
	sshDirName     = ".launchpad-ssh"
	cloneDirName   = ".launchpad-clone"
	defaultBranch  = "main"
	maskedUserinfo = "***"
)

var (
	scpLikeURL    = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[A-Za-z0-9._~/-]+$`)
	userinfoInURL = regexp.MustCompile(`(\w+://)[^/@\s]+@`)
)

// GitValidation is the result of validating a Git configuration
type GitValidation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// DetectProvider classifies a repository URL by its hosting service
func DetectProvider(repoURL string) models.GitProvider {
	lower := strings.ToLower(repoURL)
	switch {
	case strings.Contains(lower, "github.com"):
		return models.GitProviderGitHub
	case strings.Contains(lower, "gitlab"):
		return models.GitProviderGitLab
	case strings.Contains(lower, "bitbucket"):
		return models.GitProviderBitbucket
	default:
		return models.GitProviderOther
	}
}

// IsSSHURL reports whether repoURL uses the git@host:path or ssh:// form
func IsSSHURL(repoURL string) bool {
	return scpLikeURL.MatchString(repoURL) || strings.HasPrefix(strings.ToLower(repoURL), "ssh://")
}

func validRepoURL(repoURL string) bool {
	if scpLikeURL.MatchString(repoURL) {
		return true
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ssh", "git":
		return true
	}
	return false
}

// ValidateGitConfig checks a Git configuration without touching the network or disk
func ValidateGitConfig(cfg *models.GitConfig) GitValidation {
	var problems []string
	if cfg == nil {
		return GitValidation{Valid: false, Errors: []string{"Git configuration is required"}}
	}

	repoURL := strings.TrimSpace(cfg.URL)
	switch {
	case repoURL == "":
		problems = append(problems, "Repository URL is required")
	case !validRepoURL(repoURL):
		problems = append(problems, fmt.Sprintf("Repository URL %q is not a valid Git URL", MaskURL(repoURL)))
	}

	if cfg.Branch != "" && (strings.ContainsAny(cfg.Branch, " \t~^:?*[\\") || strings.Contains(cfg.Branch, "..")) {
		problems = append(problems, fmt.Sprintf("Branch name %q is invalid", cfg.Branch))
	}

	switch cfg.AuthMethod {
	case "", models.GitAuthNone, models.GitAuthToken, models.GitAuthSSH, models.GitAuthUsernamePassword:
	default:
		problems = append(problems, fmt.Sprintf("Unknown authentication method %q", cfg.AuthMethod))
	}

	if cfg.IsPrivate {
		switch cfg.AuthMethod {
		case "", models.GitAuthNone:
			problems = append(problems, "Private repositories require an authentication method (token, ssh or username_password)")
		case models.GitAuthToken:
			if strings.TrimSpace(cfg.AccessToken) == "" {
				problems = append(problems, "Access token is required for token authentication")
			}
			if IsSSHURL(repoURL) {
				problems = append(problems, "Token authentication requires an HTTPS repository URL")
			}
		case models.GitAuthUsernamePassword:
			if strings.TrimSpace(cfg.Username) == "" {
				problems = append(problems, "Username is required for username/password authentication")
			}
			if cfg.Password == "" {
				problems = append(problems, "Password is required for username/password authentication")
			}
			if IsSSHURL(repoURL) {
				problems = append(problems, "Username/password authentication requires an HTTPS repository URL")
			}
		case models.GitAuthSSH:
			if strings.TrimSpace(cfg.SSHPrivateKey) == "" {
				problems = append(problems, "SSH private key is required for SSH authentication")
			} else if _, err := ssh.ParsePrivateKey([]byte(normalizeKey(cfg.SSHPrivateKey))); err != nil {
				var missing *ssh.PassphraseMissingError
				if errors.As(err, &missing) {
					problems = append(problems, "SSH private key is protected by a passphrase, which is not supported")
				} else {
					problems = append(problems, "SSH private key could not be parsed")
				}
			}
		}
	}

	return GitValidation{Valid: len(problems) == 0, Errors: problemsOrEmpty(problems)}
}

func problemsOrEmpty(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

// BuildCloneURL returns the URL git should clone from, with credentials applied for the auth method
func BuildCloneURL(cfg *models.GitConfig) (string, error) {
	repoURL := strings.TrimSpace(cfg.URL)
	if !cfg.IsPrivate || cfg.AuthMethod == "" || cfg.AuthMethod == models.GitAuthNone {
		return repoURL, nil
	}

	if cfg.AuthMethod == models.GitAuthSSH {
		if IsSSHURL(repoURL) {
			return repoURL, nil
		}
		u, err := url.Parse(repoURL)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: cannot convert %q to an SSH URL", ErrInvalidGitConfig, MaskURL(repoURL))
		}
		return fmt.Sprintf("git@%s:%s", u.Hostname(), strings.TrimPrefix(u.Path, "/")), nil
	}

	if IsSSHURL(repoURL) {
		return "", fmt.Errorf("%w: %s authentication requires an HTTPS URL", ErrInvalidGitConfig, cfg.AuthMethod)
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid repository URL", ErrInvalidGitConfig)
	}

	switch cfg.AuthMethod {
	case models.GitAuthToken:
		provider := cfg.Provider
		if provider == "" {
			provider = DetectProvider(repoURL)
		}
		switch provider {
		case models.GitProviderGitHub:
			u.User = url.UserPassword(cfg.AccessToken, "x-oauth-basic")
		case models.GitProviderGitLab:
			u.User = url.UserPassword("oauth2", cfg.AccessToken)
		case models.GitProviderBitbucket:
			u.User = url.UserPassword("x-token-auth", cfg.AccessToken)
		default:
			u.User = url.User(cfg.AccessToken)
		}
	case models.GitAuthUsernamePassword:
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	default:
		return "", fmt.Errorf("%w: unknown authentication method %q", ErrInvalidGitConfig, cfg.AuthMethod)
	}
	return u.String(), nil
}

// MaskURL hides any userinfo embedded in a URL
func MaskURL(raw string) string {
	return userinfoInURL.ReplaceAllString(raw, "${1}"+maskedUserinfo+"@")
}

// MaskSecrets hides URL userinfo and every given secret inside free text
func MaskSecrets(text string, secrets ...string) string {
	out := userinfoInURL.ReplaceAllString(text, "${1}"+maskedUserinfo+"@")
	for _, s := range secrets {
		if s == "" {
			continue
		}
		out = strings.ReplaceAll(out, s, maskedUserinfo)
		if escaped := url.QueryEscape(s); escaped != s {
			out = strings.ReplaceAll(out, escaped, maskedUserinfo)
		}
	}
	return out
}

func normalizeKey(key string) string {
	key = strings.ReplaceAll(key, "\r\n", "\n")
	if !strings.HasSuffix(key, "\n") {
		key += "\n"
	}
	return key
}

// SSHSession is key material provisioned on disk for one clone.
// Close removes it; Close on a nil session is a no-op.
type SSHSession struct {
	Dir         string
	KeyPath     string
	ConfigPath  string
	Fingerprint string
}

// Env returns the environment override that makes git use the provisioned key
func (s *SSHSession) Env() []string {
	if s == nil {
		return nil
	}
	return []string{fmt.Sprintf("GIT_SSH_COMMAND=ssh -F %s -i %s -o IdentitiesOnly=yes", s.ConfigPath, s.KeyPath)}
}

// Close removes the provisioned directory
func (s *SSHSession) Close() error {
	if s == nil {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// ProvisionSSH writes the private key and a client config under workDir.
// It returns a nil session when the config does not use SSH authentication.
func ProvisionSSH(cfg *models.GitConfig, workDir string) (*SSHSession, error) {
	if cfg == nil || cfg.AuthMethod != models.GitAuthSSH || strings.TrimSpace(cfg.SSHPrivateKey) == "" {
		return nil, nil
	}

	key := normalizeKey(cfg.SSHPrivateKey)
	signer, err := ssh.ParsePrivateKey([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: SSH private key could not be parsed", ErrInvalidGitConfig)
	}

	dir := filepath.Join(workDir, sshDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create ssh directory: %w", err)
	}
	// MkdirAll keeps the mode of an existing directory
	if err := os.Chmod(dir, 0700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to secure ssh directory: %w", err)
	}

	session := &SSHSession{
		Dir:         dir,
		KeyPath:     filepath.Join(dir, "id_key"),
		ConfigPath:  filepath.Join(dir, "config"),
		Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
	}

	if err := os.WriteFile(session.KeyPath, []byte(key), 0600); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to write ssh key: %w", err)
	}

	sshConfig := fmt.Sprintf(`Host *
  StrictHostKeyChecking no
  UserKnownHostsFile /dev/null
  IdentityFile %s
  IdentitiesOnly yes
  LogLevel ERROR
`, session.KeyPath)
	if err := os.WriteFile(session.ConfigPath, []byte(sshConfig), 0600); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to write ssh config: %w", err)
	}

	return session, nil
}

// CleanupSSH removes any SSH material provisioned under workDir
func CleanupSSH(workDir string) error {
	return os.RemoveAll(filepath.Join(workDir, sshDirName))
}

// CloneError is a classified clone failure. Error returns the user-facing message.
type CloneError struct {
	Message string
	Output  string
}

func (e *CloneError) Error() string {
	return e.Message
}

var cloneFailures = []struct {
	patterns []string
	re       *regexp.Regexp
	message  string
}{
	{[]string{"authentication failed", "invalid username or password", "could not read username", "http basic: access denied"}, nil,
		"Authentication failed: check the access token or credentials"},
	{[]string{"host key verification failed", "no matching host key"}, nil,
		"Host key verification failed for the Git server"},
	{[]string{"permission denied"}, nil,
		"Permission denied: the credentials do not grant access to this repository"},
	{[]string{"remote branch", "couldn't find remote ref"}, nil,
		"Branch not found in the repository"},
	{[]string{"repository not found", "does not appear to be a git repository"}, regexp.MustCompile(`repository '[^']*' not found`),
		"Repository not found: check the URL and that the credentials can see it"},
	{[]string{"could not resolve host", "name or service not known", "temporary failure in name resolution"}, nil,
		"Could not resolve the Git server host (DNS failure)"},
}

// ClassifyCloneError maps raw git output to a user-facing cause
func ClassifyCloneError(output string) string {
	lower := strings.ToLower(output)
	for _, f := range cloneFailures {
		for _, p := range f.patterns {
			if strings.Contains(lower, p) {
				return f.message
			}
		}
		if f.re != nil && f.re.MatchString(lower) {
			return f.message
		}
	}
	return "Failed to clone repository"
}

// GitSourceResolver clones application sources
type GitSourceResolver struct {
	runner  process.Runner
	gitBin  string
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewGitSourceResolver creates a resolver that runs gitBin through runner
func NewGitSourceResolver(runner process.Runner, gitBin string, timeout time.Duration) *GitSourceResolver {
	if gitBin == "" {
		gitBin = "git"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &GitSourceResolver{
		runner:  runner,
		gitBin:  gitBin,
		timeout: timeout,
		logger:  logging.Named("git"),
	}
}

// Clone shallow-clones the configured branch into a scratch directory and moves the
// result, minus .git, into workDir. SSH material is removed on every return path.
func (r *GitSourceResolver) Clone(ctx context.Context, cfg *models.GitConfig, workDir string) (err error) {
	session, err := ProvisionSSH(cfg, workDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.Errorf("Failed to remove ssh material in %s: %v", workDir, cerr)
			if err == nil {
				err = fmt.Errorf("failed to remove ssh material: %w", cerr)
			}
		}
	}()
	if session != nil {
		r.logger.Infof("Provisioned SSH key %s for clone", session.Fingerprint)
	}

	cloneURL, err := BuildCloneURL(cfg)
	if err != nil {
		return err
	}

	branch := cfg.Branch
	if branch == "" {
		branch = defaultBranch
	}

	scratch := filepath.Join(workDir, cloneDirName)
	if err := os.RemoveAll(scratch); err != nil {
		return fmt.Errorf("failed to clear clone directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	cloneCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Infof("Cloning %s (branch %s)", MaskURL(cloneURL), branch)
	res, err := r.runner.Run(cloneCtx, process.Command{
		Name: r.gitBin,
		Args: []string{"clone", "--depth", "1", "--single-branch", "--branch", branch, cloneURL, scratch},
		Dir:  workDir,
		// Never prompt for credentials
		Env: append([]string{"GIT_TERMINAL_PROMPT=0"}, session.Env()...),
	})
	if err != nil {
		output := MaskSecrets(res.Output, cfg.AccessToken, cfg.Password)
		if errors.Is(cloneCtx.Err(), context.DeadlineExceeded) {
			return &CloneError{Message: fmt.Sprintf("Clone timed out after %s", r.timeout), Output: output}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &CloneError{Message: ClassifyCloneError(output), Output: output}
	}

	return moveClonedEntries(scratch, workDir)
}

func moveClonedEntries(from, to string) error {
	entries, err := os.ReadDir(from)
	if err != nil {
		return fmt.Errorf("failed to read cloned sources: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		dst := filepath.Join(to, entry.Name())
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to replace %s: %w", entry.Name(), err)
		}
		if err := os.Rename(filepath.Join(from, entry.Name()), dst); err != nil {
			return fmt.Errorf("failed to move %s: %w", entry.Name(), err)
		}
	}
	return nil
}
