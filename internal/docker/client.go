package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

var (
	// ErrNotFound indicates the requested container does not exist
	ErrNotFound = errors.New("docker: container not found")
	// ErrAlreadyRunning is returned when starting a running container
	ErrAlreadyRunning = errors.New("docker: container already running")
	// ErrNotRunning is returned when stopping or restarting a stopped container
	ErrNotRunning = errors.New("docker: container not running")
)

// composeProjectLabel is set by the compose tool on every container it creates
const composeProjectLabel = "com.docker.compose.project"

// ContainerInfo is the subset of inspect output the control plane uses
type ContainerInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	TTY       bool      `json:"tty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// LogOptions selects what a log request returns
type LogOptions struct {
	Tail   string
	Since  string
	Until  string
	Stdout bool
	Stderr bool
	Follow bool
}

// Client wraps the Docker SDK client
type Client struct {
	inner *client.Client
}

// New creates a Docker client using environment defaults
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Inspect returns details of a container by ID or name
func (c *Client) Inspect(ctx context.Context, idOrName string) (*ContainerInfo, error) {
	if strings.TrimSpace(idOrName) == "" {
		return nil, fmt.Errorf("container id cannot be empty")
	}
	inspect, err := c.inner.ContainerInspect(ctx, idOrName)
	if err != nil {
		return nil, mapError(err, "container inspect")
	}
	info := &ContainerInfo{
		ID:    inspect.ID,
		Name:  strings.TrimPrefix(inspect.Name, "/"),
		Image: inspect.Image,
	}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
		info.TTY = inspect.Config.Tty
	}
	if inspect.State != nil {
		info.State = inspect.State.Status
		info.Running = inspect.State.Running
		if ts, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
			info.StartedAt = ts
		}
	}
	return info, nil
}

// ListByProject returns the containers the compose tool created for project
func (c *Client) ListByProject(ctx context.Context, project string) ([]ContainerInfo, error) {
	args := filters.NewArgs(filters.Arg("label", composeProjectLabel+"="+project))
	list, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}
	out := make([]ContainerInfo, 0, len(list))
	for _, ctr := range list {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		out = append(out, ContainerInfo{
			ID:      ctr.ID,
			Name:    name,
			Image:   ctr.Image,
			State:   ctr.State,
			Running: ctr.State == "running",
		})
	}
	return out, nil
}

// Start starts a stopped container
func (c *Client) Start(ctx context.Context, idOrName string) error {
	info, err := c.Inspect(ctx, idOrName)
	if err != nil {
		return err
	}
	if info.Running {
		return ErrAlreadyRunning
	}
	if err := c.inner.ContainerStart(ctx, info.ID, container.StartOptions{}); err != nil {
		return mapError(err, "container start")
	}
	return nil
}

// Stop stops a running container
func (c *Client) Stop(ctx context.Context, idOrName string) error {
	info, err := c.Inspect(ctx, idOrName)
	if err != nil {
		return err
	}
	if !info.Running {
		return ErrNotRunning
	}
	if err := c.inner.ContainerStop(ctx, info.ID, container.StopOptions{}); err != nil {
		return mapError(err, "container stop")
	}
	return nil
}

// Restart restarts a running container
func (c *Client) Restart(ctx context.Context, idOrName string) error {
	info, err := c.Inspect(ctx, idOrName)
	if err != nil {
		return err
	}
	if !info.Running {
		return ErrNotRunning
	}
	if err := c.inner.ContainerRestart(ctx, info.ID, container.StopOptions{}); err != nil {
		return mapError(err, "container restart")
	}
	return nil
}

// Remove force-removes a container; a missing container is not an error
func (c *Client) Remove(ctx context.Context, idOrName string) error {
	if strings.TrimSpace(idOrName) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, idOrName, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Logs returns the raw log stream. For containers without a TTY the stream is multiplexed.
func (c *Client) Logs(ctx context.Context, idOrName string, opts LogOptions) (io.ReadCloser, error) {
	if !opts.Stdout && !opts.Stderr {
		opts.Stdout, opts.Stderr = true, true
	}
	rc, err := c.inner.ContainerLogs(ctx, idOrName, container.LogsOptions{
		ShowStdout: opts.Stdout,
		ShowStderr: opts.Stderr,
		Since:      opts.Since,
		Until:      opts.Until,
		Timestamps: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
	})
	if err != nil {
		return nil, mapError(err, "container logs")
	}
	return rc, nil
}

// Close releases resources held by the Docker client
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

func mapError(err error, op string) error {
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
