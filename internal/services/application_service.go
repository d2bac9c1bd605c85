package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/store"
	"go.uber.org/zap"
)

// Application events on the applications channel
const (
	EventApplicationCreated = "application:created"
	EventApplicationUpdated = "application:updated"
)

// CreateApplicationRequest represents a request to create an application
type CreateApplicationRequest struct {
	Name          string            `json:"name" validate:"required,max=64"`
	Type          models.AppType    `json:"type" validate:"required,oneof=node python go static custom"`
	InternalPort  int               `json:"internal_port" validate:"omitempty,min=1,max=65535"`
	PreferredPort int               `json:"preferred_port" validate:"omitempty,min=1,max=65535"`
	Git           *models.GitConfig `json:"git,omitempty"`
	Env           []models.EnvVar   `json:"env" validate:"omitempty,dive"`
	Dockerfile    string            `json:"dockerfile"`
	ComposeFile   string            `json:"compose_file"`
}

// UpdateApplicationRequest represents a partial update; nil fields are left unchanged
type UpdateApplicationRequest struct {
	InternalPort *int              `json:"internal_port,omitempty" validate:"omitempty,min=1,max=65535"`
	Git          *models.GitConfig `json:"git,omitempty"`
	RemoveGit    bool              `json:"remove_git,omitempty"`
	Env          []models.EnvVar   `json:"env,omitempty" validate:"omitempty,dive"`
	Dockerfile   *string           `json:"dockerfile,omitempty"`
	ComposeFile  *string           `json:"compose_file,omitempty"`
}

// AppGitConfig is one application's redacted Git configuration
type AppGitConfig struct {
	AppID   string               `json:"app_id"`
	AppName string               `json:"app_name"`
	Git     models.GitConfigView `json:"git"`
}

// ApplicationService manages application records
type ApplicationService struct {
	apps    *store.ApplicationRegistry
	ports   *PortAllocator
	creds   *CredentialService
	engine  *DeploymentEngine
	hub     WSHub
	appsDir string
	logger  *zap.SugaredLogger

	// createMu makes the name check and the insert of Create one step
	createMu sync.Mutex
}

// NewApplicationService creates a new application service
func NewApplicationService(
	apps *store.ApplicationRegistry,
	ports *PortAllocator,
	creds *CredentialService,
	engine *DeploymentEngine,
	hub WSHub,
	appsDir string,
) *ApplicationService {
	return &ApplicationService{
		apps:    apps,
		ports:   ports,
		creds:   creds,
		engine:  engine,
		hub:     hub,
		appsDir: appsDir,
		logger:  logging.Named("applications"),
	}
}

// normalizeGitConfig fills derived fields and drops secrets of public repositories
func normalizeGitConfig(cfg *models.GitConfig) *models.GitConfig {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.URL = strings.TrimSpace(out.URL)
	out.Branch = strings.TrimSpace(out.Branch)
	if out.Branch == "" {
		out.Branch = defaultBranch
	}
	if out.Provider == "" {
		out.Provider = DetectProvider(out.URL)
	}
	if !out.IsPrivate {
		out.AuthMethod = models.GitAuthNone
		return out.WithSecrets(models.GitSecrets{})
	}
	if out.AuthMethod == "" {
		out.AuthMethod = models.GitAuthNone
	}
	return &out
}

func checkEnv(env []models.EnvVar) error {
	for _, v := range env {
		if strings.TrimSpace(v.Key) == "" || strings.ContainsAny(v.Key, "= \t\n") {
			return fmt.Errorf("%w: invalid environment variable name %q", ErrInvalidApplication, v.Key)
		}
	}
	if dup := models.DuplicateEnvKey(env); dup != "" {
		return fmt.Errorf("%w: duplicate environment variable %q", ErrInvalidApplication, dup)
	}
	return nil
}

func checkCompose(compose string, app *models.Application) error {
	if strings.TrimSpace(compose) == "" {
		return nil
	}
	if err := ValidateCompose(RenderTemplate(compose, app)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidApplication, err)
	}
	return nil
}

// Create validates and stores a new application, allocating its external port
func (s *ApplicationService) Create(req CreateApplicationRequest) (*models.Application, error) {
	name := strings.TrimSpace(req.Name)
	if !models.ValidAppName(name) {
		return nil, ErrInvalidName
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()
	if s.apps.GetByName(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	tpl, ok := GetTemplate(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown application type %q", ErrInvalidApplication, req.Type)
	}
	if err := checkEnv(req.Env); err != nil {
		return nil, err
	}

	var git *models.GitConfig
	if req.Git != nil && strings.TrimSpace(req.Git.URL) != "" {
		git = normalizeGitConfig(req.Git)
		if v := ValidateGitConfig(git); !v.Valid {
			return nil, &GitValidationError{Errors: v.Errors}
		}
	}

	app := models.NewApplication(name, req.Type)
	app.InternalPort = tpl.DefaultInternalPort
	if req.InternalPort > 0 {
		app.InternalPort = req.InternalPort
	}
	app.WorkingDirectory = filepath.Join(s.appsDir, strings.ToLower(name))
	app.ContainerName = app.DefaultContainerName()
	app.Dockerfile = tpl.Dockerfile
	if strings.TrimSpace(req.Dockerfile) != "" {
		app.Dockerfile = req.Dockerfile
	}
	app.ComposeFile = tpl.ComposeFile
	if strings.TrimSpace(req.ComposeFile) != "" {
		if err := checkCompose(req.ComposeFile, app); err != nil {
			return nil, err
		}
		app.ComposeFile = req.ComposeFile
	}
	if req.Env != nil {
		app.Env = append([]models.EnvVar(nil), req.Env...)
	}

	port, err := s.ports.Allocate(app.ID, app.Name, req.PreferredPort)
	if err != nil {
		return nil, err
	}
	app.ExternalPort = port

	if git != nil {
		if err := s.creds.StoreGitSecrets(app.ID, git.Secrets()); err != nil {
			s.ports.Release(app.ID)
			return nil, err
		}
		app.Git = git.Stripped()
	}

	if err := os.MkdirAll(app.WorkingDirectory, 0755); err != nil {
		s.ports.Release(app.ID)
		_ = s.creds.DeleteGitSecrets(app.ID)
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	if err := WriteBuildFiles(app, app.WorkingDirectory); err != nil {
		s.logger.Warnf("Failed to write initial build files for %s: %v", app.Name, err)
	}

	s.apps.Put(app)
	s.broadcast(EventApplicationCreated, app)
	s.logger.Infof("Created application %s (%s) on port %d", app.Name, app.Type, app.ExternalPort)
	return app.Copy(), nil
}

// Get returns one application
func (s *ApplicationService) Get(id string) (*models.Application, error) {
	app := s.apps.Get(id)
	if app == nil {
		return nil, ErrApplicationNotFound
	}
	return app, nil
}

// List returns every application ordered by creation time
func (s *ApplicationService) List() []*models.Application {
	return s.apps.List()
}

// Update applies a partial update. Git secrets omitted from the request are kept.
func (s *ApplicationService) Update(id string, req UpdateApplicationRequest) (*models.Application, error) {
	current := s.apps.Get(id)
	if current == nil {
		return nil, ErrApplicationNotFound
	}
	if s.engine != nil && s.engine.IsDeploying(id) {
		return nil, ErrDeploymentInProgress
	}
	if req.Env != nil {
		if err := checkEnv(req.Env); err != nil {
			return nil, err
		}
	}
	if req.ComposeFile != nil {
		if err := checkCompose(*req.ComposeFile, current); err != nil {
			return nil, err
		}
	}

	var git *models.GitConfig
	if req.Git != nil && !req.RemoveGit && strings.TrimSpace(req.Git.URL) != "" {
		stored, err := s.creds.GetGitSecrets(id)
		if err != nil {
			return nil, err
		}
		incoming := req.Git.Secrets()
		if incoming.AccessToken == "" {
			incoming.AccessToken = stored.AccessToken
		}
		if incoming.Password == "" {
			incoming.Password = stored.Password
		}
		if incoming.SSHPrivateKey == "" {
			incoming.SSHPrivateKey = stored.SSHPrivateKey
		}
		git = normalizeGitConfig(req.Git.WithSecrets(incoming))
		if v := ValidateGitConfig(git); !v.Valid {
			return nil, &GitValidationError{Errors: v.Errors}
		}
		if err := s.creds.StoreGitSecrets(id, git.Secrets()); err != nil {
			return nil, err
		}
	}
	if req.RemoveGit {
		if err := s.creds.DeleteGitSecrets(id); err != nil {
			return nil, err
		}
	}

	updated := s.apps.Update(id, func(app *models.Application) {
		if req.InternalPort != nil {
			app.InternalPort = *req.InternalPort
		}
		if req.Env != nil {
			app.Env = append([]models.EnvVar(nil), req.Env...)
		}
		if req.Dockerfile != nil {
			app.Dockerfile = *req.Dockerfile
		}
		if req.ComposeFile != nil {
			app.ComposeFile = *req.ComposeFile
		}
		switch {
		case req.RemoveGit:
			app.Git = nil
		case git != nil:
			app.Git = git.Stripped()
		}
		app.UpdatedAt = time.Now().UTC()
	})
	if updated == nil {
		return nil, ErrApplicationNotFound
	}

	s.broadcast(EventApplicationUpdated, updated)
	return updated, nil
}

// Delete stops and removes the application, releasing its port and working directory
func (s *ApplicationService) Delete(ctx context.Context, id string) error {
	return s.engine.Delete(ctx, id)
}

// GitConfig returns the redacted Git configuration of one application, nil when it has none
func (s *ApplicationService) GitConfig(id string) (*models.GitConfigView, error) {
	app := s.apps.Get(id)
	if app == nil {
		return nil, ErrApplicationNotFound
	}
	if !app.HasGit() {
		return nil, nil
	}
	hydrated, err := s.creds.Hydrate(app.ID, app.Git)
	if err != nil {
		return nil, err
	}
	view := hydrated.View()
	return &view, nil
}

// ListGitConfigs returns the redacted Git configuration of every Git-backed application
func (s *ApplicationService) ListGitConfigs() ([]AppGitConfig, error) {
	out := []AppGitConfig{}
	for _, app := range s.apps.List() {
		if !app.HasGit() {
			continue
		}
		hydrated, err := s.creds.Hydrate(app.ID, app.Git)
		if err != nil {
			return nil, err
		}
		out = append(out, AppGitConfig{AppID: app.ID, AppName: app.Name, Git: hydrated.View()})
	}
	return out, nil
}

// ValidateGit validates a Git configuration as Create would
func (s *ApplicationService) ValidateGit(cfg *models.GitConfig) GitValidation {
	return ValidateGitConfig(normalizeGitConfig(cfg))
}

// ListTemplates returns the built-in application templates
func (s *ApplicationService) ListTemplates() []AppTemplate {
	return ListTemplates()
}

func (s *ApplicationService) broadcast(event string, app *models.Application) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(ChannelApplications, event, map[string]interface{}{
		"id":            app.ID,
		"name":          app.Name,
		"status":        app.Status,
		"external_port": app.ExternalPort,
	})
}
