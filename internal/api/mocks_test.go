package api

import (
	"context"

	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/services"
	"github.com/stretchr/testify/mock"
)

// MockApplications is a mock application service
type MockApplications struct {
	mock.Mock
}

func (m *MockApplications) Create(req services.CreateApplicationRequest) (*models.Application, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockApplications) Get(id string) (*models.Application, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockApplications) List() []*models.Application {
	return m.Called().Get(0).([]*models.Application)
}

func (m *MockApplications) Update(id string, req services.UpdateApplicationRequest) (*models.Application, error) {
	args := m.Called(id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockApplications) Delete(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *MockApplications) GitConfig(id string) (*models.GitConfigView, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GitConfigView), args.Error(1)
}

func (m *MockApplications) ListGitConfigs() ([]services.AppGitConfig, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.AppGitConfig), args.Error(1)
}

func (m *MockApplications) ValidateGit(cfg *models.GitConfig) services.GitValidation {
	return m.Called(cfg).Get(0).(services.GitValidation)
}

func (m *MockApplications) ListTemplates() []services.AppTemplate {
	return m.Called().Get(0).([]services.AppTemplate)
}

// MockDeployments is a mock deployment engine
type MockDeployments struct {
	mock.Mock
}

func (m *MockDeployments) Deploy(appID string, force bool) (*models.Deployment, error) {
	args := m.Called(appID, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deployment), args.Error(1)
}

func (m *MockDeployments) GetDeployment(id string) (*models.Deployment, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deployment), args.Error(1)
}

func (m *MockDeployments) ListDeployments(appID string) ([]models.Deployment, error) {
	args := m.Called(appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Deployment), args.Error(1)
}

func (m *MockDeployments) lifecycle(verb, appID string) (*models.Application, error) {
	args := m.Called(verb, appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockDeployments) Start(ctx context.Context, appID string) (*models.Application, error) {
	return m.lifecycle("start", appID)
}

func (m *MockDeployments) Stop(ctx context.Context, appID string) (*models.Application, error) {
	return m.lifecycle("stop", appID)
}

func (m *MockDeployments) Restart(ctx context.Context, appID string) (*models.Application, error) {
	return m.lifecycle("restart", appID)
}

// MockContainers is a mock container service
type MockContainers struct {
	mock.Mock
	// stream is replayed by StreamLogs
	stream []models.LogEntry
}

func (m *MockContainers) Status(ctx context.Context, appID string) (*docker.ContainerInfo, error) {
	args := m.Called(appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*docker.ContainerInfo), args.Error(1)
}

func (m *MockContainers) GetLogs(ctx context.Context, appID string, q services.LogQuery) ([]models.LogEntry, error) {
	args := m.Called(appID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LogEntry), args.Error(1)
}

func (m *MockContainers) StreamLogs(ctx context.Context, appID string, q services.LogQuery, fn func(models.LogEntry) error) error {
	args := m.Called(appID, q)
	for _, e := range m.stream {
		if err := fn(e); err != nil {
			return err
		}
	}
	return args.Error(0)
}

// MockPorts is a mock port allocator
type MockPorts struct {
	mock.Mock
}

func (m *MockPorts) Range() models.PortRange {
	return m.Called().Get(0).(models.PortRange)
}

func (m *MockPorts) List() []models.PortAllocation {
	return m.Called().Get(0).([]models.PortAllocation)
}

func (m *MockPorts) ListAvailable(count int) []int {
	return m.Called(count).Get(0).([]int)
}

type pingFunc func() error

func (f pingFunc) Ping(ctx context.Context) error { return f() }
