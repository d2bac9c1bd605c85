package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/process"
	"github.com/jared-cannon/homelab-launchpad/internal/store"
	"go.uber.org/zap"
)

// Hub channels and events
const (
	ChannelApplications = "applications"

	EventLog    = "log"
	EventStatus = "status"
	EventEnd    = "end"

	EventApplicationStatus  = "application:status"
	EventApplicationDeleted = "application:deleted"
)

// DeploymentChannel is the hub channel carrying one deployment's events
func DeploymentChannel(deploymentID string) string {
	return "deployment:" + deploymentID
}

const (
	// build output lines are persisted in batches of this size
	logFlushEvery = 25
	// build output kept for failure classification
	buildTailLines = 200
)

// WSHub interface for pub/sub broadcasting
type WSHub interface {
	Broadcast(channel string, event string, data interface{})
}

// ContainerEngine is the container control API used by the services
type ContainerEngine interface {
	Ping(ctx context.Context) error
	Inspect(ctx context.Context, idOrName string) (*docker.ContainerInfo, error)
	ListByProject(ctx context.Context, project string) ([]docker.ContainerInfo, error)
	Remove(ctx context.Context, idOrName string) error
	Logs(ctx context.Context, idOrName string, opts docker.LogOptions) (io.ReadCloser, error)
}

// EngineOptions configures a DeploymentEngine
type EngineOptions struct {
	DockerBin    string
	AppsDir      string
	HistoryLimit int
}

// DeploymentEngine drives clone, build and start of applications and tracks every attempt
type DeploymentEngine struct {
	apps    *store.ApplicationRegistry
	history *store.DeploymentStore
	ports   *PortAllocator
	git     *GitSourceResolver
	creds   *CredentialService
	runner  process.Runner
	engine  ContainerEngine
	hub     WSHub
	metrics *Metrics
	opts    EngineOptions
	logger  *zap.SugaredLogger

	appLocks sync.Map // app ID -> *sync.Mutex, held for the whole pipeline
	active   sync.Map // deployment ID -> *deploymentRun
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewDeploymentEngine creates a deployment engine
func NewDeploymentEngine(
	apps *store.ApplicationRegistry,
	history *store.DeploymentStore,
	ports *PortAllocator,
	git *GitSourceResolver,
	creds *CredentialService,
	runner process.Runner,
	engine ContainerEngine,
	hub WSHub,
	metrics *Metrics,
	opts EngineOptions,
) *DeploymentEngine {
	if opts.DockerBin == "" {
		opts.DockerBin = "docker"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DeploymentEngine{
		apps:    apps,
		history: history,
		ports:   ports,
		git:     git,
		creds:   creds,
		runner:  runner,
		engine:  engine,
		hub:     hub,
		metrics: metrics,
		opts:    opts,
		logger:  logging.Named("deployment"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// deploymentRun is the in-memory state of one pipeline. mu guards d.
type deploymentRun struct {
	mu      sync.Mutex
	d       *models.Deployment
	app     *models.Application
	git     *models.GitConfig
	started time.Time
	unsaved int
}

func (r *deploymentRun) snapshot() *models.Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.d.Copy()
}

// pipelineError terminates a pipeline with a user-facing message
type pipelineError struct {
	step    models.LogStep
	message string
}

func (e *pipelineError) Error() string {
	return e.message
}

func failStep(step models.LogStep, format string, args ...interface{}) error {
	return &pipelineError{step: step, message: fmt.Sprintf(format, args...)}
}

func (e *DeploymentEngine) appLock(appID string) *sync.Mutex {
	lock, _ := e.appLocks.LoadOrStore(appID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Deploy validates the application, records a pending deployment and runs the
// pipeline in the background. The returned deployment is a snapshot.
func (e *DeploymentEngine) Deploy(appID string, force bool) (*models.Deployment, error) {
	app := e.apps.Get(appID)
	if app == nil {
		return nil, ErrApplicationNotFound
	}

	var gitCfg *models.GitConfig
	if app.HasGit() {
		hydrated, err := e.creds.Hydrate(app.ID, app.Git)
		if err != nil {
			return nil, fmt.Errorf("failed to load git credentials: %w", err)
		}
		gitCfg = hydrated
		if gitCfg.IsPrivate {
			if v := ValidateGitConfig(gitCfg); !v.Valid {
				return nil, &GitValidationError{Errors: v.Errors}
			}
		}
	}

	lock := e.appLock(appID)
	if !lock.TryLock() {
		return nil, ErrDeploymentInProgress
	}

	d := models.NewDeployment(appID, force)
	d.AppendLog(models.LogLevelInfo, models.LogStepInit, fmt.Sprintf("Deployment requested for %s", app.Name))
	if err := e.history.Save(d); err != nil {
		lock.Unlock()
		return nil, err
	}

	app = e.setAppStatus(appID, models.AppStatusBuilding, "", nil)
	if app == nil {
		// Deleted between the lookup and now
		_ = d.Transition(models.DeploymentStatusFailed, "Application was deleted")
		_ = e.history.Save(d)
		lock.Unlock()
		return nil, ErrApplicationNotFound
	}

	run := &deploymentRun{d: d, app: app, git: gitCfg, started: time.Now()}
	e.active.Store(d.ID, run)
	snapshot := d.Copy()

	e.wg.Add(1)
	go e.executeDeployment(run, lock)

	e.logger.Infof("Deployment %s queued for %s (force=%v)", d.ID, app.Name, force)
	return snapshot, nil
}

// GetDeployment returns a deployment, preferring the live state of a running pipeline
func (e *DeploymentEngine) GetDeployment(id string) (*models.Deployment, error) {
	if v, ok := e.active.Load(id); ok {
		return v.(*deploymentRun).snapshot(), nil
	}
	return e.history.Get(id)
}

// ListDeployments returns an application's deployment history, newest first
func (e *DeploymentEngine) ListDeployments(appID string) ([]models.Deployment, error) {
	if e.apps.Get(appID) == nil {
		return nil, ErrApplicationNotFound
	}
	list, err := e.history.ListByApp(appID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if v, ok := e.active.Load(list[i].ID); ok {
			list[i] = *v.(*deploymentRun).snapshot()
		}
	}
	return list, nil
}

// IsDeploying reports whether appID has a pipeline or lifecycle operation in flight
func (e *DeploymentEngine) IsDeploying(appID string) bool {
	lock := e.appLock(appID)
	if lock.TryLock() {
		lock.Unlock()
		return false
	}
	return true
}

func (e *DeploymentEngine) executeDeployment(run *deploymentRun, lock *sync.Mutex) {
	defer e.wg.Done()
	defer lock.Unlock()
	defer e.active.Delete(run.d.ID)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("Deployment %s panicked: %v", run.d.ID, r)
			e.finishFailed(run, models.LogStepError, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()

	err := e.runPipeline(e.ctx, run)
	if err == nil {
		e.finishSuccess(run)
		return
	}

	var perr *pipelineError
	if errors.As(err, &perr) {
		e.finishFailed(run, perr.step, perr.message)
		return
	}
	if e.ctx.Err() != nil {
		e.finishFailed(run, models.LogStepError, "Deployment interrupted by server shutdown")
		return
	}
	e.finishFailed(run, models.LogStepError, fmt.Sprintf("Unexpected error: %v", err))
}

func (e *DeploymentEngine) runPipeline(ctx context.Context, run *deploymentRun) error {
	app := run.app
	workDir := app.WorkingDirectory

	e.appendLog(run, models.LogLevelInfo, models.LogStepInit, fmt.Sprintf("Starting deployment of %s", app.Name))

	if err := e.preflight(ctx); err != nil {
		return failStep(models.LogStepInit, "Container engine unavailable: %v", err)
	}
	e.appendLog(run, models.LogLevelInfo, models.LogStepInit, "Container engine and compose tool are reachable")

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return failStep(models.LogStepInit, "Failed to create working directory: %v", err)
	}

	if run.git != nil {
		if err := e.updateStatus(run, models.DeploymentStatusCloning); err != nil {
			return err
		}
		if err := e.cloneSource(ctx, run); err != nil {
			return err
		}
	} else {
		e.appendLog(run, models.LogLevelInfo, models.LogStepClone, "No Git source configured, using the working directory as is")
	}

	// Cloning may have replaced the build files
	if err := WriteBuildFiles(app, workDir); err != nil {
		return failStep(models.LogStepConfig, "Failed to write build files: %v", err)
	}
	e.appendLog(run, models.LogLevelInfo, models.LogStepConfig,
		fmt.Sprintf("Wrote %s, %s and %s", DockerfileName, ComposeFileName, EnvFileName))

	if err := VerifyBuildFiles(workDir); err != nil {
		if errors.Is(err, ErrMissingBuildFile) {
			return failStep(models.LogStepConfig, "Missing file: %v", err)
		}
		return failStep(models.LogStepConfig, "Invalid compose file: %v", err)
	}

	if err := e.updateStatus(run, models.DeploymentStatusBuilding); err != nil {
		return err
	}
	if err := e.buildImage(ctx, run); err != nil {
		return err
	}

	if err := e.updateStatus(run, models.DeploymentStatusStarting); err != nil {
		return err
	}
	return e.startContainers(ctx, run)
}

func (e *DeploymentEngine) preflight(ctx context.Context) error {
	if err := e.engine.Ping(ctx); err != nil {
		return err
	}
	res, err := e.runner.Run(ctx, process.Command{Name: e.opts.DockerBin, Args: []string{"compose", "version"}})
	if err != nil {
		if out := lastLines(res.Output, 1); out != "" {
			return fmt.Errorf("docker compose is not available: %s", out)
		}
		return fmt.Errorf("docker compose is not available: %w", err)
	}
	return nil
}

func (e *DeploymentEngine) cloneSource(ctx context.Context, run *deploymentRun) error {
	cfg := run.git
	workDir := run.app.WorkingDirectory

	if run.d.Force {
		removed, err := purgeWorkDir(workDir)
		if err != nil {
			return failStep(models.LogStepClone, "Failed to clean working directory: %v", err)
		}
		e.appendLog(run, models.LogLevelWarn, models.LogStepClone,
			fmt.Sprintf("Force deploy: removed %d entries from the working directory", removed))
	}

	branch := cfg.Branch
	if branch == "" {
		branch = defaultBranch
	}
	e.appendLog(run, models.LogLevelInfo, models.LogStepClone,
		fmt.Sprintf("Cloning %s (branch %s, auth %s)", MaskURL(cfg.URL), branch, authLabel(cfg)))

	if err := e.git.Clone(ctx, cfg, workDir); err != nil {
		var cloneErr *CloneError
		if errors.As(err, &cloneErr) {
			if detail := lastLines(cloneErr.Output, 3); detail != "" {
				e.appendLog(run, models.LogLevelWarn, models.LogStepClone, detail)
			}
			return failStep(models.LogStepClone, "%s", cloneErr.Message)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failStep(models.LogStepClone, "Failed to clone repository: %s",
			MaskSecrets(err.Error(), cfg.AccessToken, cfg.Password))
	}

	e.appendLog(run, models.LogLevelSuccess, models.LogStepClone, "Repository cloned")
	return nil
}

func authLabel(cfg *models.GitConfig) string {
	if !cfg.IsPrivate || cfg.AuthMethod == "" {
		return string(models.GitAuthNone)
	}
	return string(cfg.AuthMethod)
}

// purgeWorkDir removes everything except the generated build files
func purgeWorkDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if IsBuildFile(entry.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (e *DeploymentEngine) buildImage(ctx context.Context, run *deploymentRun) error {
	e.appendLog(run, models.LogLevelInfo, models.LogStepBuild, "Building image without cache")

	tail := make([]string, 0, buildTailLines)
	exitCode, err := e.runner.Stream(ctx, e.compose(run.app, "build", "--no-cache"), func(stream, line string) {
		if len(tail) == buildTailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)
		if strings.TrimSpace(line) == "" {
			return
		}
		e.appendLog(run, models.LogLevelInfo, models.LogStepBuild, line)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failStep(models.LogStepBuild, "Build could not be started: %v", err)
	}
	if exitCode != 0 {
		return failStep(models.LogStepBuild, "%s", ClassifyBuildError(strings.Join(tail, "\n"), exitCode))
	}

	e.appendLog(run, models.LogLevelSuccess, models.LogStepBuild, "Image built")
	return nil
}

func (e *DeploymentEngine) startContainers(ctx context.Context, run *deploymentRun) error {
	app := run.app

	e.appendLog(run, models.LogLevelInfo, models.LogStepStart, "Removing previous containers")
	if res, err := e.runner.Run(ctx, e.compose(app, "down", "--remove-orphans")); err != nil {
		e.appendLog(run, models.LogLevelWarn, models.LogStepStart,
			fmt.Sprintf("Could not remove previous containers: %s", firstNonEmpty(lastLines(res.Output, 1), err.Error())))
	}

	e.appendLog(run, models.LogLevelInfo, models.LogStepStart, "Starting containers")
	res, err := e.runner.Run(ctx, e.compose(app, "up", "-d"))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failStep(models.LogStepStart, "Failed to start containers: %s", firstNonEmpty(lastLines(res.Output, 3), err.Error()))
	}

	containers, err := e.engine.ListByProject(ctx, app.ComposeProject())
	if err != nil {
		e.appendLog(run, models.LogLevelWarn, models.LogStepStart, fmt.Sprintf("Could not look up the started container: %v", err))
		return nil
	}
	ctr := pickContainer(containers)
	if ctr == nil {
		e.appendLog(run, models.LogLevelWarn, models.LogStepStart, "No container found for the compose project after start")
		return nil
	}

	run.mu.Lock()
	run.app.ContainerID = ctr.ID
	run.app.ContainerName = ctr.Name
	run.mu.Unlock()
	e.appendLog(run, models.LogLevelSuccess, models.LogStepStart,
		fmt.Sprintf("Container %s started, listening on port %d", ctr.Name, app.ExternalPort))
	return nil
}

// pickContainer prefers a running container
func pickContainer(list []docker.ContainerInfo) *docker.ContainerInfo {
	for i := range list {
		if list[i].Running {
			return &list[i]
		}
	}
	if len(list) > 0 {
		return &list[0]
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (e *DeploymentEngine) finishSuccess(run *deploymentRun) {
	// The trail is closed by the terminal transition, so the last line goes first
	e.appendLog(run, models.LogLevelSuccess, models.LogStepDone, "Deployment completed successfully")
	if err := e.transition(run, models.DeploymentStatusSuccess, ""); err != nil {
		e.logger.Errorf("Deployment %s could not be marked successful: %v", run.d.ID, err)
		e.finishFailed(run, models.LogStepError, err.Error())
		return
	}

	run.mu.Lock()
	containerID, containerName := run.app.ContainerID, run.app.ContainerName
	run.mu.Unlock()
	e.setAppStatus(run.app.ID, models.AppStatusRunning, "", func(app *models.Application) {
		if containerID != "" {
			app.ContainerID = containerID
			app.ContainerName = containerName
		}
	})

	e.finish(run, "success")
}

func (e *DeploymentEngine) finishFailed(run *deploymentRun, step models.LogStep, message string) {
	run.mu.Lock()
	alreadyFinished := run.d.Status.IsTerminal()
	run.mu.Unlock()
	if alreadyFinished {
		return
	}

	e.appendLog(run, models.LogLevelError, step, message)
	if err := e.transition(run, models.DeploymentStatusFailed, message); err != nil {
		e.logger.Errorf("Deployment %s could not be marked failed: %v", run.d.ID, err)
	}
	e.setAppStatus(run.app.ID, models.AppStatusFailed, message, nil)

	e.logger.Warnf("Deployment %s for %s failed: %s", run.d.ID, run.app.Name, message)
	e.finish(run, "failed")
}

func (e *DeploymentEngine) finish(run *deploymentRun, outcome string) {
	final := run.snapshot()
	e.metrics.ObserveDeployment(outcome, time.Since(run.started))
	e.broadcast(DeploymentChannel(final.ID), EventEnd, map[string]interface{}{
		"id":     final.ID,
		"app_id": final.AppID,
		"status": final.Status,
		"error":  final.Error,
	})

	if e.opts.HistoryLimit > 0 {
		if pruned, err := e.history.Prune(final.AppID, e.opts.HistoryLimit); err != nil {
			e.logger.Warnf("Failed to prune deployment history for %s: %v", final.AppID, err)
		} else if pruned > 0 {
			e.logger.Debugf("Pruned %d old deployments of %s", pruned, final.AppID)
		}
	}
}

// appendLog adds a log line to the deployment and publishes it
func (e *DeploymentEngine) appendLog(run *deploymentRun, level models.LogLevel, step models.LogStep, message string) {
	run.mu.Lock()
	entry, err := run.d.AppendLog(level, step, message)
	if err != nil {
		id := run.d.ID
		run.mu.Unlock()
		e.logger.Debugf("Dropped log line for finished deployment %s: %s", id, message)
		return
	}
	run.unsaved++
	if level != models.LogLevelInfo || step != models.LogStepBuild || run.unsaved >= logFlushEvery {
		e.saveLocked(run)
	}
	id := run.d.ID
	run.mu.Unlock()

	e.broadcast(DeploymentChannel(id), EventLog, map[string]interface{}{
		"id":        id,
		"timestamp": entry.Timestamp,
		"level":     entry.Level,
		"step":      entry.Step,
		"message":   entry.Message,
	})
}

// updateStatus moves the deployment forward and logs the change
func (e *DeploymentEngine) updateStatus(run *deploymentRun, status models.DeploymentStatus) error {
	if err := e.transition(run, status, ""); err != nil {
		return err
	}
	e.appendLog(run, models.LogLevelInfo, stepForStatus(status), fmt.Sprintf("Status changed to: %s", status))
	return nil
}

func (e *DeploymentEngine) transition(run *deploymentRun, status models.DeploymentStatus, errMsg string) error {
	run.mu.Lock()
	if err := run.d.Transition(status, errMsg); err != nil {
		run.mu.Unlock()
		return err
	}
	e.saveLocked(run)
	event := map[string]interface{}{
		"id":     run.d.ID,
		"app_id": run.d.AppID,
		"status": run.d.Status,
		"error":  run.d.Error,
	}
	id := run.d.ID
	run.mu.Unlock()

	e.broadcast(DeploymentChannel(id), EventStatus, event)
	return nil
}

func (e *DeploymentEngine) saveLocked(run *deploymentRun) {
	run.unsaved = 0
	if err := e.history.Save(run.d); err != nil {
		e.logger.Errorf("Failed to persist deployment %s: %v", run.d.ID, err)
	}
}

func stepForStatus(s models.DeploymentStatus) models.LogStep {
	switch s {
	case models.DeploymentStatusCloning:
		return models.LogStepClone
	case models.DeploymentStatusBuilding:
		return models.LogStepBuild
	case models.DeploymentStatusStarting:
		return models.LogStepStart
	case models.DeploymentStatusSuccess:
		return models.LogStepDone
	case models.DeploymentStatusFailed:
		return models.LogStepError
	}
	return models.LogStepInit
}

// setAppStatus updates the application status and publishes the change.
// Returns the updated application or nil if it no longer exists.
func (e *DeploymentEngine) setAppStatus(appID string, status models.AppStatus, lastError string, mutate func(*models.Application)) *models.Application {
	app := e.apps.Update(appID, func(app *models.Application) {
		app.Status = status
		app.LastError = lastError
		app.UpdatedAt = time.Now().UTC()
		if mutate != nil {
			mutate(app)
		}
	})
	if app == nil {
		return nil
	}
	e.broadcast(ChannelApplications, EventApplicationStatus, map[string]interface{}{
		"id":         app.ID,
		"name":       app.Name,
		"status":     app.Status,
		"last_error": app.LastError,
	})
	return app
}

func (e *DeploymentEngine) broadcast(channel, event string, data interface{}) {
	if e.hub != nil {
		e.hub.Broadcast(channel, event, data)
	}
}

func (e *DeploymentEngine) compose(app *models.Application, args ...string) process.Command {
	base := []string{"compose", "-p", app.ComposeProject(), "-f", filepath.Join(app.WorkingDirectory, ComposeFileName)}
	return process.Command{
		Name: e.opts.DockerBin,
		Args: append(base, args...),
		Dir:  app.WorkingDirectory,
	}
}

// MarkInterrupted fails deployments left unfinished by a previous process
func (e *DeploymentEngine) MarkInterrupted() (int, error) {
	list, err := e.history.ListUnfinished()
	if err != nil {
		return 0, err
	}
	const msg = "Deployment interrupted by server restart"
	for i := range list {
		d := &list[i]
		d.AppendLog(models.LogLevelError, models.LogStepError, msg)
		if err := d.Transition(models.DeploymentStatusFailed, msg); err != nil {
			continue
		}
		if err := e.history.Save(d); err != nil {
			return i, err
		}
		if app := e.apps.Get(d.AppID); app != nil && (app.Status == models.AppStatusBuilding || app.Status == models.AppStatusDeploying) {
			e.setAppStatus(d.AppID, models.AppStatusFailed, msg, nil)
		}
	}
	if len(list) > 0 {
		e.logger.Warnf("Marked %d interrupted deployment(s) as failed", len(list))
	}
	return len(list), nil
}

// Shutdown waits for in-flight pipelines. When ctx expires first, running child
// processes are cancelled and the pipelines record a failure.
func (e *DeploymentEngine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.logger.Warn("Shutdown deadline reached, cancelling running deployments")
		e.cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		return ctx.Err()
	}
}
