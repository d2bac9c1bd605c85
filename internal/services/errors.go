package services

import (
	"errors"
	"strings"
)

var (
	// ErrApplicationNotFound is returned when no application has the requested ID
	ErrApplicationNotFound = errors.New("application not found")
	// ErrNameTaken is returned when another application already uses the name
	ErrNameTaken = errors.New("application name already in use")
	// ErrInvalidName is returned for names outside [A-Za-z0-9_-]
	ErrInvalidName = errors.New("application name may only contain letters, digits, '-' and '_'")
	// ErrInvalidApplication is returned for any other invalid application field
	ErrInvalidApplication = errors.New("invalid application")
	// ErrDeploymentInProgress is returned when the application already has a running pipeline
	ErrDeploymentInProgress = errors.New("a deployment is already in progress for this application")
	// ErrEngineUnavailable is returned when the container engine cannot be reached
	ErrEngineUnavailable = errors.New("container engine unavailable")
)

// GitValidationError lists every problem found in a Git configuration
type GitValidationError struct {
	Errors []string
}

func (e *GitValidationError) Error() string {
	return "invalid git configuration: " + strings.Join(e.Errors, "; ")
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidGitConfig)
func (e *GitValidationError) Unwrap() error {
	return ErrInvalidGitConfig
}

// lastLines returns the final n non-empty lines of output joined by newlines
func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append([]string{l}, kept...)
		}
	}
	return strings.Join(kept, "\n")
}
