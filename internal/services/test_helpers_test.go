package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/process"
	"github.com/jared-cannon/homelab-launchpad/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"gorm.io/gorm"
)

// setupTestDB opens a throwaway SQLite database with the deployment table migrated
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := store.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// fakeChecker reports every port free unless marked busy
type fakeChecker struct {
	mu   sync.Mutex
	busy map[int]bool
}

func newFakeChecker(busy ...int) *fakeChecker {
	p := &fakeChecker{busy: map[int]bool{}}
	for _, port := range busy {
		p.busy[port] = true
	}
	return p
}

func (p *fakeChecker) IsFree(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.busy[port]
}

func (p *fakeChecker) setBusy(port int, busy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy[port] = busy
}

func setupTestPortAllocator(t *testing.T, start, end int, checker PortChecker) *PortAllocator {
	reg, err := store.OpenPortRegistry(
		filepath.Join(t.TempDir(), "ports.json"),
		models.PortRange{Start: start, End: end},
	)
	require.NoError(t, err)
	return NewPortAllocator(reg, checker, nil)
}

// fakeRunner records commands and delegates to optional hooks; without hooks every command succeeds
type fakeRunner struct {
	mu       sync.Mutex
	calls    []process.Command
	onRun    func(ctx context.Context, cmd process.Command) (process.Result, error)
	onStream func(ctx context.Context, cmd process.Command, onLine process.LineFunc) (int, error)
}

func (f *fakeRunner) Run(ctx context.Context, cmd process.Command) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	hook := f.onRun
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, cmd)
	}
	return process.Result{}, nil
}

func (f *fakeRunner) Stream(ctx context.Context, cmd process.Command, onLine process.LineFunc) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	hook := f.onStream
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, cmd, onLine)
	}
	return 0, nil
}

// commandLines returns every recorded command rendered as a string
func (f *fakeRunner) commandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// testSSHKey returns a freshly generated OpenSSH-encoded ed25519 private key
func testSSHKey(t *testing.T) string {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "test")
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block))
}

// fakeEngine is an in-memory container engine keyed by compose project
type fakeEngine struct {
	mu         sync.Mutex
	pingErr    error
	listErr    error
	removeErr  error
	projects   map[string][]docker.ContainerInfo
	removed    []string
	logs       string
	tty        bool
	logOptions []docker.LogOptions
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{projects: map[string][]docker.ContainerInfo{}}
}

func (f *fakeEngine) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeEngine) Inspect(ctx context.Context, id string) (*docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, list := range f.projects {
		for _, c := range list {
			if c.ID == id || c.Name == id {
				c.TTY = f.tty
				return &c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", docker.ErrNotFound, id)
}

func (f *fakeEngine) ListByProject(ctx context.Context, project string) ([]docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]docker.ContainerInfo(nil), f.projects[project]...), nil
}

func (f *fakeEngine) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return f.removeErr
}

func (f *fakeEngine) Logs(ctx context.Context, id string, opts docker.LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logOptions = append(f.logOptions, opts)
	return io.NopCloser(strings.NewReader(f.logs)), nil
}

func (f *fakeEngine) setProject(project string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "exited"
	if running {
		state = "running"
	}
	f.projects[project] = []docker.ContainerInfo{{
		ID: "ctr-" + project, Name: "launchpad-" + project, State: state, Running: running,
	}}
}

func (f *fakeEngine) dropProject(project string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, project)
}

// hubEvent is one recorded broadcast
type hubEvent struct {
	Channel string
	Event   string
	Data    map[string]interface{}
}

// recordingHub captures broadcasts
type recordingHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (h *recordingHub) Broadcast(channel, event string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, _ := data.(map[string]interface{})
	h.events = append(h.events, hubEvent{Channel: channel, Event: event, Data: m})
}

// statuses returns the deployment statuses published on channel, in order
func (h *recordingHub) statuses(channel string) []models.DeploymentStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.DeploymentStatus
	for _, e := range h.events {
		if e.Channel == channel && e.Event == EventStatus {
			out = append(out, e.Data["status"].(models.DeploymentStatus))
		}
	}
	return out
}

func (h *recordingHub) count(channel, event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Channel == channel && e.Event == event {
			n++
		}
	}
	return n
}

// engineFixture wires every service against fakes and temp directories
type engineFixture struct {
	engine   *DeploymentEngine
	apps     *ApplicationService
	registry *store.ApplicationRegistry
	history  *store.DeploymentStore
	ports    *PortAllocator
	creds    *CredentialService
	runner   *fakeRunner
	docker   *fakeEngine
	hub      *recordingHub
	appsDir  string
}

func setupEngine(t *testing.T) *engineFixture {
	dir := t.TempDir()
	appsDir := filepath.Join(dir, "apps")

	registry, err := store.OpenApplicationRegistry(filepath.Join(dir, "applications.json"))
	require.NoError(t, err)
	history := store.NewDeploymentStore(setupTestDB(t))
	ports := setupTestPortAllocator(t, 10000, 10010, newFakeChecker())
	creds := setupCredService(t)
	dockerFake := newFakeEngine()
	hub := &recordingHub{}

	f := &engineFixture{
		registry: registry,
		history:  history,
		ports:    ports,
		creds:    creds,
		docker:   dockerFake,
		hub:      hub,
		appsDir:  appsDir,
	}
	f.runner = &fakeRunner{onRun: f.composeRun}

	gitResolver := NewGitSourceResolver(f.runner, "git", time.Minute)
	f.engine = NewDeploymentEngine(registry, history, ports, gitResolver, creds, f.runner, dockerFake, hub, nil,
		EngineOptions{DockerBin: "docker", AppsDir: appsDir})
	f.apps = NewApplicationService(registry, ports, creds, f.engine, hub, appsDir)
	return f
}

// composeRun simulates docker compose verbs against the fake engine; anything else succeeds
func (f *engineFixture) composeRun(ctx context.Context, cmd process.Command) (process.Result, error) {
	if cmd.Name == "git" {
		return cloneInto(map[string]string{"index.js": "console.log('hi')"})(ctx, cmd)
	}
	if len(cmd.Args) < 6 || cmd.Args[0] != "compose" || cmd.Args[1] != "-p" {
		return process.Result{}, nil
	}
	project := cmd.Args[2]
	switch cmd.Args[5] {
	case "up", "start", "restart":
		f.docker.setProject(project, true)
	case "stop":
		f.docker.setProject(project, false)
	case "down":
		f.docker.dropProject(project)
	}
	return process.Result{}, nil
}

// wait blocks until every queued pipeline has finished
func (f *engineFixture) wait() {
	f.engine.wg.Wait()
}

func (f *engineFixture) createApp(t *testing.T, name string, git *models.GitConfig) *models.Application {
	app, err := f.apps.Create(CreateApplicationRequest{Name: name, Type: models.AppTypeNode, Git: git})
	require.NoError(t, err)
	return app
}

func exitErr(cmd process.Command, code int, output string) (process.Result, error) {
	return process.Result{Output: output, ExitCode: code}, &process.ExitError{Command: cmd.String(), ExitCode: code, Output: output}
}

// eventsAfterTerminal returns the events published on channel after the first
// success or failed status event
func (h *recordingHub) eventsAfterTerminal(channel string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	terminal := false
	for _, e := range h.events {
		if e.Channel != channel {
			continue
		}
		if terminal {
			out = append(out, e.Event)
			continue
		}
		if e.Event == EventStatus {
			if s, _ := e.Data["status"].(models.DeploymentStatus); s.IsTerminal() {
				terminal = true
			}
		}
	}
	return out
}
