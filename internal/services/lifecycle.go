package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
)

// containerState returns the project's containers and whether any of them runs
func (e *DeploymentEngine) containerState(ctx context.Context, app *models.Application) ([]docker.ContainerInfo, bool, error) {
	list, err := e.engine.ListByProject(ctx, app.ComposeProject())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	for _, c := range list {
		if c.Running {
			return list, true, nil
		}
	}
	return list, false, nil
}

// lockIdle takes the application lock for a short lifecycle operation
func (e *DeploymentEngine) lockIdle(appID string) (func(), error) {
	lock := e.appLock(appID)
	if !lock.TryLock() {
		return nil, ErrDeploymentInProgress
	}
	return lock.Unlock, nil
}

// Stop stops the application's containers
func (e *DeploymentEngine) Stop(ctx context.Context, appID string) (*models.Application, error) {
	return e.lifecycle(ctx, appID, "stop")
}

// Start starts the application's containers, creating them when none exist
func (e *DeploymentEngine) Start(ctx context.Context, appID string) (*models.Application, error) {
	return e.lifecycle(ctx, appID, "start")
}

// Restart restarts the application's running containers
func (e *DeploymentEngine) Restart(ctx context.Context, appID string) (*models.Application, error) {
	return e.lifecycle(ctx, appID, "restart")
}

func (e *DeploymentEngine) lifecycle(ctx context.Context, appID, verb string) (*models.Application, error) {
	app := e.apps.Get(appID)
	if app == nil {
		return nil, ErrApplicationNotFound
	}
	unlock, err := e.lockIdle(appID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	containers, running, err := e.containerState(ctx, app)
	if err != nil {
		return nil, err
	}

	args := []string{verb}
	next := models.AppStatusRunning
	switch verb {
	case "stop":
		if !running {
			return nil, docker.ErrNotRunning
		}
		next = models.AppStatusStopped
	case "start":
		if running {
			return nil, docker.ErrAlreadyRunning
		}
		if len(containers) == 0 {
			args = []string{"up", "-d"}
		}
	case "restart":
		if !running {
			return nil, docker.ErrNotRunning
		}
	}

	e.logger.Infof("Running compose %s for %s", strings.Join(args, " "), app.Name)
	res, err := e.runner.Run(ctx, e.compose(app, args...))
	if err != nil {
		msg := fmt.Sprintf("compose %s failed: %s", verb, firstNonEmpty(lastLines(res.Output, 3), err.Error()))
		e.setAppStatus(appID, models.AppStatusError, msg, nil)
		return nil, fmt.Errorf("%s", msg)
	}

	var ctr *docker.ContainerInfo
	if next == models.AppStatusRunning {
		if list, err := e.engine.ListByProject(ctx, app.ComposeProject()); err == nil {
			ctr = pickContainer(list)
		}
	}
	updated := e.setAppStatus(appID, next, "", func(a *models.Application) {
		if ctr != nil {
			a.ContainerID = ctr.ID
			a.ContainerName = ctr.Name
		}
	})
	if updated == nil {
		return nil, ErrApplicationNotFound
	}
	return updated, nil
}

// Delete tears the application down. Every step is best-effort: a failing container
// teardown still releases the port and removes the working directory.
func (e *DeploymentEngine) Delete(ctx context.Context, appID string) error {
	app := e.apps.Get(appID)
	if app == nil {
		return ErrApplicationNotFound
	}
	unlock, err := e.lockIdle(appID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(filepath.Join(app.WorkingDirectory, ComposeFileName)); err == nil {
		if res, err := e.runner.Run(ctx, e.compose(app, "down", "--rmi", "local", "-v", "--remove-orphans")); err != nil {
			e.logger.Warnf("compose down failed for %s: %s", app.Name, firstNonEmpty(lastLines(res.Output, 1), err.Error()))
		}
	}
	if list, err := e.engine.ListByProject(ctx, app.ComposeProject()); err != nil {
		e.logger.Warnf("Could not list containers of %s: %v", app.Name, err)
	} else {
		for _, c := range list {
			if err := e.engine.Remove(ctx, c.ID); err != nil {
				e.logger.Warnf("Failed to remove container %s: %v", c.Name, err)
			}
		}
	}

	e.ports.Release(appID)

	if err := e.removeWorkDir(app.WorkingDirectory); err != nil {
		e.logger.Warnf("Failed to remove working directory of %s: %v", app.Name, err)
	}
	if err := e.creds.DeleteGitSecrets(appID); err != nil {
		e.logger.Warnf("Failed to delete git credentials of %s: %v", app.Name, err)
	}
	if err := e.history.DeleteByApp(appID); err != nil {
		e.logger.Warnf("Failed to delete deployment history of %s: %v", app.Name, err)
	}

	e.apps.Delete(appID)
	e.appLocks.Delete(appID)
	e.broadcast(ChannelApplications, EventApplicationDeleted, map[string]interface{}{
		"id":   app.ID,
		"name": app.Name,
	})
	e.logger.Infof("Deleted application %s", app.Name)
	return nil
}

// removeWorkDir only removes directories inside the apps directory
func (e *DeploymentEngine) removeWorkDir(dir string) error {
	if dir == "" {
		return nil
	}
	if e.opts.AppsDir != "" {
		rel, err := filepath.Rel(filepath.Clean(e.opts.AppsDir), filepath.Clean(dir))
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("refusing to remove %s outside %s", dir, e.opts.AppsDir)
		}
	}
	return os.RemoveAll(dir)
}
