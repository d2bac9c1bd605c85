package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/dockerlog"
	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/store"
	"go.uber.org/zap"
)

const (
	defaultLogTail    = 100
	defaultFollowTail = 50
	maxLogTail        = 10000
)

// LogQuery selects container log lines
type LogQuery struct {
	// Tail is the number of trailing lines; 0 uses the default
	Tail int
	// Since and Until accept RFC 3339 timestamps or Go durations relative to now ("10m")
	Since string
	Until string
	// Stream is "stdout", "stderr" or "" / "all"
	Stream string
}

func (q LogQuery) options(defaultTail int, follow bool) (docker.LogOptions, error) {
	tail := q.Tail
	if tail <= 0 {
		tail = defaultTail
	}
	if tail > maxLogTail {
		tail = maxLogTail
	}
	opts := docker.LogOptions{
		Tail:   strconv.Itoa(tail),
		Since:  q.Since,
		Until:  q.Until,
		Follow: follow,
	}
	switch q.Stream {
	case "", "all":
		opts.Stdout, opts.Stderr = true, true
	case string(models.LogStreamStdout):
		opts.Stdout = true
	case string(models.LogStreamStderr):
		opts.Stderr = true
	default:
		return opts, fmt.Errorf("%w: unknown log stream %q", ErrInvalidApplication, q.Stream)
	}
	return opts, nil
}

// ContainerService reads container state and logs for applications
type ContainerService struct {
	apps   *store.ApplicationRegistry
	engine ContainerEngine
	now    dockerlog.Clock
	logger *zap.SugaredLogger
}

// NewContainerService creates a container service
func NewContainerService(apps *store.ApplicationRegistry, engine ContainerEngine) *ContainerService {
	return &ContainerService{
		apps:   apps,
		engine: engine,
		now:    time.Now,
		logger: logging.Named("containers"),
	}
}

// resolveContainer finds the application's container, falling back to the compose
// project when the recorded ID is stale
func (s *ContainerService) resolveContainer(ctx context.Context, appID string) (*docker.ContainerInfo, error) {
	app := s.apps.Get(appID)
	if app == nil {
		return nil, ErrApplicationNotFound
	}
	if app.ContainerID != "" {
		info, err := s.engine.Inspect(ctx, app.ContainerID)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, docker.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
	}
	list, err := s.engine.ListByProject(ctx, app.ComposeProject())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	ctr := pickContainer(list)
	if ctr == nil {
		return nil, docker.ErrNotFound
	}
	// ListByProject does not report the TTY flag
	return s.engine.Inspect(ctx, ctr.ID)
}

// Status returns the container backing an application
func (s *ContainerService) Status(ctx context.Context, appID string) (*docker.ContainerInfo, error) {
	return s.resolveContainer(ctx, appID)
}

// GetLogs returns a bounded batch of decoded log entries
func (s *ContainerService) GetLogs(ctx context.Context, appID string, q LogQuery) ([]models.LogEntry, error) {
	opts, err := q.options(defaultLogTail, false)
	if err != nil {
		return nil, err
	}
	info, err := s.resolveContainer(ctx, appID)
	if err != nil {
		return nil, err
	}

	rc, err := s.engine.Logs(ctx, info.ID, opts)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	entries, err := dockerlog.ReadAll(rc, !info.TTY, s.now)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	return entries, nil
}

// StreamLogs follows the container's output, calling fn for every entry until the
// stream ends, ctx is cancelled or fn returns an error.
func (s *ContainerService) StreamLogs(ctx context.Context, appID string, q LogQuery, fn func(models.LogEntry) error) error {
	opts, err := q.options(defaultFollowTail, true)
	if err != nil {
		return err
	}
	info, err := s.resolveContainer(ctx, appID)
	if err != nil {
		return err
	}

	rc, err := s.engine.Logs(ctx, info.ID, opts)
	if err != nil {
		return err
	}
	defer rc.Close()

	// Unblock a pending Read when the consumer goes away
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	s.logger.Debugf("Following logs of %s", info.Name)
	return dockerlog.Follow(ctx, rc, !info.TTY, s.now, fn)
}
