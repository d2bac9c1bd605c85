package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/services"
	"github.com/jared-cannon/homelab-launchpad/internal/store"
)

// Global validator instance
var validate = validator.New()

// ErrorResponse represents a sanitized error response for API clients
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// classify maps a service error to an HTTP status and a structured API error.
// Messages of 5xx errors are replaced by defaultMessage.
func classify(err error, defaultMessage string) (int, *models.APIError) {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return statusForCode(apiErr.Code), apiErr
	}

	var gitErr *services.GitValidationError
	if errors.As(err, &gitErr) {
		return fiber.StatusBadRequest, models.NewGitValidationError(gitErr.Errors)
	}

	switch {
	case errors.Is(err, services.ErrApplicationNotFound):
		return fiber.StatusNotFound, models.NewNotFoundError("Application")
	case errors.Is(err, store.ErrDeploymentNotFound):
		return fiber.StatusNotFound, models.NewNotFoundError("Deployment")
	case errors.Is(err, docker.ErrNotFound):
		return fiber.StatusNotFound, models.NewNotFoundError("Container")

	case errors.Is(err, services.ErrInvalidName),
		errors.Is(err, services.ErrInvalidApplication),
		errors.Is(err, services.ErrInvalidGitConfig):
		return fiber.StatusBadRequest, models.WrapError(models.ErrCodeValidationFailed, err.Error(), err, nil)

	case errors.Is(err, services.ErrNameTaken):
		return fiber.StatusConflict, models.WrapError(models.ErrCodeAlreadyExists, err.Error(), err, nil)
	case errors.Is(err, services.ErrDeploymentInProgress):
		return fiber.StatusConflict, models.WrapError(models.ErrCodeDeploymentInProgress, err.Error(), err, nil)
	case errors.Is(err, docker.ErrAlreadyRunning):
		return fiber.StatusConflict, models.WrapError(models.ErrCodeAlreadyRunning, "Application is already running", err, nil)
	case errors.Is(err, docker.ErrNotRunning):
		return fiber.StatusConflict, models.WrapError(models.ErrCodeNotRunning, "Application is not running", err, nil)

	case errors.Is(err, services.ErrPortExhausted):
		return fiber.StatusServiceUnavailable, models.WrapError(models.ErrCodePortExhausted, err.Error(), err, nil)
	case errors.Is(err, services.ErrEngineUnavailable):
		return fiber.StatusServiceUnavailable, models.WrapError(models.ErrCodeEngineUnavailable, "Container engine unavailable", err, nil)
	}

	return fiber.StatusInternalServerError, models.WrapError(models.ErrCodeInternalError, defaultMessage, err, nil)
}

func statusForCode(code string) int {
	switch code {
	case models.ErrCodeNotFound:
		return fiber.StatusNotFound
	case models.ErrCodeAlreadyExists, models.ErrCodeDeploymentInProgress,
		models.ErrCodeAlreadyRunning, models.ErrCodeNotRunning:
		return fiber.StatusConflict
	case models.ErrCodePortExhausted, models.ErrCodeEngineUnavailable:
		return fiber.StatusServiceUnavailable
	case models.ErrCodeAuthFailed:
		return fiber.StatusUnauthorized
	case models.ErrCodeInternalError:
		return fiber.StatusInternalServerError
	}
	return fiber.StatusBadRequest
}

// HandleError writes the structured error response for err
func HandleError(c *fiber.Ctx, err error, defaultMessage string) error {
	status, apiErr := classify(err, defaultMessage)
	if status >= fiber.StatusInternalServerError {
		logging.Named("api").Errorf("%s %s: %s: %v", c.Method(), c.Path(), defaultMessage, err)
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:   apiErr.Message,
		Code:    apiErr.Code,
		Details: apiErr.Details,
	})
}

// badRequest returns a 400 with a plain validation message
func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: message,
		Code:  models.ErrCodeValidationFailed,
	})
}

// ValidateRequest checks a request struct against its validate tags. The returned
// error is a VALIDATION_FAILED APIError listing the offending fields.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace())
		}
	}
	logging.Named("api").Debugf("Validation failed: %v", err)
	apiErr := models.NewValidationError("Invalid request - please check your input and try again", fields)
	apiErr.Err = err
	return apiErr
}
