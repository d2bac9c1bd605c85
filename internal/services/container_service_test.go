package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/dockerlog"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupContainerService(t *testing.T) (*ContainerService, *store.ApplicationRegistry, *fakeEngine) {
	registry, err := store.OpenApplicationRegistry(filepath.Join(t.TempDir(), "applications.json"))
	require.NoError(t, err)
	engine := newFakeEngine()
	svc := NewContainerService(registry, engine)
	svc.now = func() time.Time { return fixedNow }
	return svc, registry, engine
}

func putApp(registry *store.ApplicationRegistry, name, containerID string) *models.Application {
	app := models.NewApplication(name, models.AppTypeNode)
	app.ContainerID = containerID
	registry.Put(app)
	return app
}

func TestContainerService_GetLogsMultiplexed(t *testing.T) {
	svc, registry, engine := setupContainerService(t)
	app := putApp(registry, "demo", "ctr-demo")
	engine.setProject("demo", true)

	var stream []byte
	stream = append(stream, dockerlog.EncodeFrame(dockerlog.StreamStdout, []byte("2024-05-01T11:59:00.123Z listening on 3000\n"))...)
	stream = append(stream, dockerlog.EncodeFrame(dockerlog.StreamStderr, []byte("warning: deprecated\n"))...)
	engine.logs = string(stream)

	entries, err := svc.GetLogs(context.Background(), app.ID, LogQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, models.LogEntry{
		Timestamp: "2024-05-01T11:59:00.123Z", Message: "listening on 3000", Stream: models.LogStreamStdout,
	}, entries[0])
	assert.Equal(t, models.LogStreamStderr, entries[1].Stream)
	assert.Equal(t, "warning: deprecated", entries[1].Message)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", entries[1].Timestamp)

	require.Len(t, engine.logOptions, 1)
	assert.Equal(t, docker.LogOptions{Tail: "100", Stdout: true, Stderr: true}, engine.logOptions[0])
}

func TestContainerService_GetLogsTTY(t *testing.T) {
	svc, registry, engine := setupContainerService(t)
	app := putApp(registry, "demo", "ctr-demo")
	engine.setProject("demo", true)
	engine.tty = true
	engine.logs = "first\n\nsecond\n"

	entries, err := svc.GetLogs(context.Background(), app.ID, LogQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, models.LogStreamStdout, entries[1].Stream)
}

func TestContainerService_GetLogsEmpty(t *testing.T) {
	svc, registry, engine := setupContainerService(t)
	app := putApp(registry, "demo", "ctr-demo")
	engine.setProject("demo", true)

	entries, err := svc.GetLogs(context.Background(), app.ID, LogQuery{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestContainerService_LogQueryOptions(t *testing.T) {
	tests := []struct {
		name    string
		query   LogQuery
		follow  bool
		want    docker.LogOptions
		wantErr bool
	}{
		{"defaults", LogQuery{}, false, docker.LogOptions{Tail: "100", Stdout: true, Stderr: true}, false},
		{"follow default", LogQuery{}, true, docker.LogOptions{Tail: "50", Stdout: true, Stderr: true, Follow: true}, false},
		{"capped tail", LogQuery{Tail: 50000}, false, docker.LogOptions{Tail: "10000", Stdout: true, Stderr: true}, false},
		{"stderr only", LogQuery{Stream: "stderr", Since: "10m"}, false, docker.LogOptions{Tail: "100", Since: "10m", Stderr: true}, false},
		{"stdout only", LogQuery{Stream: "stdout", Tail: 5}, false, docker.LogOptions{Tail: "5", Stdout: true}, false},
		{"unknown stream", LogQuery{Stream: "stdin"}, false, docker.LogOptions{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defaultTail := defaultLogTail
			if tt.follow {
				defaultTail = defaultFollowTail
			}
			got, err := tt.query.options(defaultTail, tt.follow)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidApplication)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainerService_ResolveContainer(t *testing.T) {
	t.Run("unknown application", func(t *testing.T) {
		svc, _, _ := setupContainerService(t)
		_, err := svc.Status(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrApplicationNotFound)
	})

	t.Run("stale container ID falls back to the compose project", func(t *testing.T) {
		svc, registry, engine := setupContainerService(t)
		app := putApp(registry, "demo", "gone-123")
		engine.setProject("demo", true)

		info, err := svc.Status(context.Background(), app.ID)
		require.NoError(t, err)
		assert.Equal(t, "ctr-demo", info.ID)
	})

	t.Run("no container", func(t *testing.T) {
		svc, registry, _ := setupContainerService(t)
		app := putApp(registry, "demo", "")

		_, err := svc.GetLogs(context.Background(), app.ID, LogQuery{})
		assert.ErrorIs(t, err, docker.ErrNotFound)
	})

	t.Run("engine unavailable", func(t *testing.T) {
		svc, registry, engine := setupContainerService(t)
		app := putApp(registry, "demo", "")
		engine.listErr = errors.New("connection refused")

		_, err := svc.Status(context.Background(), app.ID)
		assert.ErrorIs(t, err, ErrEngineUnavailable)
	})
}

func TestContainerService_StreamLogs(t *testing.T) {
	svc, registry, engine := setupContainerService(t)
	app := putApp(registry, "demo", "ctr-demo")
	engine.setProject("demo", true)

	var stream []byte
	for _, line := range []string{"one\n", "two\n", "three\n"} {
		stream = append(stream, dockerlog.EncodeFrame(dockerlog.StreamStdout, []byte(line))...)
	}
	engine.logs = string(stream)

	t.Run("delivers every entry", func(t *testing.T) {
		var got []string
		err := svc.StreamLogs(context.Background(), app.ID, LogQuery{}, func(e models.LogEntry) error {
			got = append(got, e.Message)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two", "three"}, got)
		assert.True(t, engine.logOptions[len(engine.logOptions)-1].Follow)
	})

	t.Run("consumer error stops the stream", func(t *testing.T) {
		stop := errors.New("client gone")
		calls := 0
		err := svc.StreamLogs(context.Background(), app.ID, LogQuery{}, func(e models.LogEntry) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("invalid query", func(t *testing.T) {
		err := svc.StreamLogs(context.Background(), app.ID, LogQuery{Stream: "bogus"}, func(models.LogEntry) error { return nil })
		assert.ErrorIs(t, err, ErrInvalidApplication)
	})
}
