package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to DeploymentStatus
		want     bool
	}{
		{DeploymentStatusPending, DeploymentStatusCloning, true},
		{DeploymentStatusPending, DeploymentStatusBuilding, true},
		{DeploymentStatusCloning, DeploymentStatusBuilding, true},
		{DeploymentStatusBuilding, DeploymentStatusStarting, true},
		{DeploymentStatusStarting, DeploymentStatusSuccess, true},
		{DeploymentStatusPending, DeploymentStatusFailed, true},
		{DeploymentStatusCloning, DeploymentStatusFailed, true},
		{DeploymentStatusStarting, DeploymentStatusFailed, true},

		{DeploymentStatusPending, DeploymentStatusStarting, false},
		{DeploymentStatusPending, DeploymentStatusSuccess, false},
		{DeploymentStatusBuilding, DeploymentStatusCloning, false},
		{DeploymentStatusBuilding, DeploymentStatusSuccess, false},
		{DeploymentStatusStarting, DeploymentStatusBuilding, false},
		{DeploymentStatusSuccess, DeploymentStatusFailed, false},
		{DeploymentStatusFailed, DeploymentStatusPending, false},
		{DeploymentStatusFailed, DeploymentStatusFailed, false},
		{DeploymentStatus("bogus"), DeploymentStatusBuilding, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestDeployment_Transition(t *testing.T) {
	d := NewDeployment("app-1", false)
	assert.Equal(t, DeploymentStatusPending, d.Status)
	assert.Nil(t, d.FinishedAt)

	require.NoError(t, d.Transition(DeploymentStatusBuilding, ""))
	assert.Nil(t, d.FinishedAt)

	require.NoError(t, d.Transition(DeploymentStatusFailed, "Build failed (code 1)"))
	assert.Equal(t, "Build failed (code 1)", d.Error)
	require.NotNil(t, d.FinishedAt)

	err := d.Transition(DeploymentStatusSuccess, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, DeploymentStatusFailed, d.Status)
}

func TestDeployment_AppendLogAfterFinish(t *testing.T) {
	d := NewDeployment("app-1", false)
	_, err := d.AppendLog(LogLevelInfo, LogStepInit, "one")
	require.NoError(t, err)
	require.NoError(t, d.Transition(DeploymentStatusFailed, "boom"))

	_, err = d.AppendLog(LogLevelInfo, LogStepDone, "late")
	assert.ErrorIs(t, err, ErrDeploymentFinished)
	assert.Len(t, d.Logs, 1)
}

func TestDeployment_CopyIsIndependent(t *testing.T) {
	d := NewDeployment("app-1", true)
	d.AppendLog(LogLevelInfo, LogStepInit, "one")

	cp := d.Copy()
	d.AppendLog(LogLevelInfo, LogStepInit, "two")
	require.NoError(t, d.Transition(DeploymentStatusFailed, "x"))

	assert.Len(t, cp.Logs, 1)
	assert.Equal(t, DeploymentStatusPending, cp.Status)
	assert.Nil(t, cp.FinishedAt)
}

func TestValidAppName(t *testing.T) {
	for _, name := range []string{"demo", "my-app", "App_2"} {
		assert.True(t, ValidAppName(name), name)
	}
	for _, name := range []string{"", "my app", "a/b", "café", "x.y"} {
		assert.False(t, ValidAppName(name), name)
	}
}

func TestDuplicateEnvKey(t *testing.T) {
	assert.Empty(t, DuplicateEnvKey([]EnvVar{{Key: "A"}, {Key: "B"}}))
	assert.Equal(t, "A", DuplicateEnvKey([]EnvVar{{Key: "A"}, {Key: "B"}, {Key: "A"}}))
}

func TestGitConfig_StrippedAndView(t *testing.T) {
	cfg := &GitConfig{
		URL: "https://github.com/acme/x.git", IsPrivate: true,
		AuthMethod: GitAuthToken, AccessToken: "tok",
	}

	stripped := cfg.Stripped()
	assert.True(t, stripped.Secrets().Empty())
	assert.Equal(t, "tok", cfg.AccessToken, "Stripped must not modify the receiver")

	view := cfg.View()
	assert.True(t, view.HasAccessToken)
	assert.False(t, view.HasPassword)
	assert.False(t, view.HasSSHKey)
}

func TestApplication_Names(t *testing.T) {
	app := NewApplication("MyApp", AppTypeNode)
	assert.Equal(t, "myapp", app.ComposeProject())
	assert.Equal(t, "launchpad-myapp", app.DefaultContainerName())
	assert.False(t, app.HasGit())

	app.Git = &GitConfig{URL: "  "}
	assert.False(t, app.HasGit())
}

func TestPortRange(t *testing.T) {
	r := PortRange{Start: 10000, End: 10002}
	assert.Equal(t, 3, r.Size())
	assert.True(t, r.Contains(10002))
	assert.False(t, r.Contains(10003))
}
