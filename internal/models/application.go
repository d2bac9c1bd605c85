package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppType selects the default build files generated for an application
type AppType string

const (
	AppTypeNode   AppType = "node"
	AppTypePython AppType = "python"
	AppTypeGo     AppType = "go"
	AppTypeStatic AppType = "static"
	AppTypeCustom AppType = "custom"
)

// AppStatus represents the observed state of an application
type AppStatus string

const (
	AppStatusPending   AppStatus = "pending"
	AppStatusBuilding  AppStatus = "building"
	AppStatusDeploying AppStatus = "deploying"
	AppStatusRunning   AppStatus = "running"
	AppStatusStopped   AppStatus = "stopped"
	AppStatusFailed    AppStatus = "failed"
	AppStatusError     AppStatus = "error"
)

var appNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidAppName reports whether name is usable as an application name
func ValidAppName(name string) bool {
	return appNamePattern.MatchString(name)
}

// EnvVar is a single environment variable. Order is preserved when rendering .env files.
type EnvVar struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// Application is the durable description of one deployable unit
type Application struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             AppType    `json:"type"`
	InternalPort     int        `json:"internal_port"`
	ExternalPort     int        `json:"external_port"`
	WorkingDirectory string     `json:"working_directory"`
	Git              *GitConfig `json:"git,omitempty"`
	Env              []EnvVar   `json:"env"`
	Dockerfile       string     `json:"dockerfile"`
	ComposeFile      string     `json:"compose_file"`
	Status           AppStatus  `json:"status"`
	LastError        string     `json:"last_error,omitempty"`
	ContainerID      string     `json:"container_id,omitempty"`
	ContainerName    string     `json:"container_name,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewApplication returns an application with a generated ID and pending status
func NewApplication(name string, appType AppType) *Application {
	now := time.Now().UTC()
	return &Application{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      appType,
		Status:    AppStatusPending,
		Env:       []EnvVar{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ComposeProject is the compose project name used for every compose invocation
func (a *Application) ComposeProject() string {
	return strings.ToLower(a.Name)
}

// DefaultContainerName is the container name written into generated compose files
func (a *Application) DefaultContainerName() string {
	return "launchpad-" + strings.ToLower(a.Name)
}

// HasGit reports whether the application is Git-backed
func (a *Application) HasGit() bool {
	return a.Git != nil && strings.TrimSpace(a.Git.URL) != ""
}

// Copy returns a deep copy safe to hand out of a store
func (a *Application) Copy() *Application {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Env = append([]EnvVar(nil), a.Env...)
	if a.Git != nil {
		g := *a.Git
		cp.Git = &g
	}
	return &cp
}

// DuplicateEnvKey returns the first key that appears twice in env, or "" if keys are unique
func DuplicateEnvKey(env []EnvVar) string {
	seen := make(map[string]bool, len(env))
	for _, v := range env {
		if seen[v.Key] {
			return v.Key
		}
		seen[v.Key] = true
	}
	return ""
}
