package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeploymentStatus represents the status of a deployment
type DeploymentStatus string

const (
	DeploymentStatusPending  DeploymentStatus = "pending"
	DeploymentStatusCloning  DeploymentStatus = "cloning"
	DeploymentStatusBuilding DeploymentStatus = "building"
	DeploymentStatusStarting DeploymentStatus = "starting"
	DeploymentStatusSuccess  DeploymentStatus = "success"
	DeploymentStatusFailed   DeploymentStatus = "failed"
)

// ErrInvalidTransition is returned when a deployment status change would move backwards
// or leave a terminal status
var ErrInvalidTransition = errors.New("invalid deployment status transition")

// ErrDeploymentFinished is returned when appending to a deployment in a terminal status
var ErrDeploymentFinished = errors.New("deployment already finished")

var deploymentStatusRank = map[DeploymentStatus]int{
	DeploymentStatusPending:  0,
	DeploymentStatusCloning:  1,
	DeploymentStatusBuilding: 2,
	DeploymentStatusStarting: 3,
	DeploymentStatusSuccess:  4,
}

// IsTerminal reports whether no further transition is allowed
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentStatusSuccess || s == DeploymentStatusFailed
}

// CanTransitionTo reports whether s -> next is a legal forward move.
// failed is reachable from any non-terminal status; success only from starting.
func (s DeploymentStatus) CanTransitionTo(next DeploymentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == DeploymentStatusFailed {
		return true
	}
	if next == DeploymentStatusSuccess {
		return s == DeploymentStatusStarting
	}
	cur, ok := deploymentStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := deploymentStatusRank[next]
	if !ok {
		return false
	}
	switch next {
	case DeploymentStatusCloning:
		return s == DeploymentStatusPending
	case DeploymentStatusStarting:
		return s == DeploymentStatusBuilding
	}
	return nxt > cur
}

// LogLevel is the severity of a deployment log line
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarn    LogLevel = "warn"
	LogLevelError   LogLevel = "error"
	LogLevelSuccess LogLevel = "success"
)

// LogStep is the pipeline step a deployment log line belongs to
type LogStep string

const (
	LogStepInit   LogStep = "init"
	LogStepClone  LogStep = "clone"
	LogStepConfig LogStep = "config"
	LogStepBuild  LogStep = "build"
	LogStepStart  LogStep = "start"
	LogStepDone   LogStep = "done"
	LogStepError  LogStep = "error"
)

// DeploymentLog is one line of a deployment's log trail
type DeploymentLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Step      LogStep   `json:"step"`
	Message   string    `json:"message"`
}

// Deployment is one attempt to bring an application to a running state
type Deployment struct {
	ID         string           `gorm:"primaryKey" json:"id"`
	AppID      string           `gorm:"index;not null" json:"app_id"`
	Status     DeploymentStatus `gorm:"default:pending" json:"status"`
	Force      bool             `json:"force"`
	StartedAt  time.Time        `gorm:"index" json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Logs       []DeploymentLog  `gorm:"serializer:json" json:"logs"`
	Error      string           `gorm:"type:text" json:"error,omitempty"`
}

// NewDeployment returns a pending deployment for the given application
func NewDeployment(appID string, force bool) *Deployment {
	return &Deployment{
		ID:        uuid.NewString(),
		AppID:     appID,
		Status:    DeploymentStatusPending,
		Force:     force,
		StartedAt: time.Now().UTC(),
		Logs:      []DeploymentLog{},
	}
}

// BeforeCreate hook to generate UUID
func (d *Deployment) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DeploymentStatusPending
	}
	return nil
}

// TableName overrides the default table name
func (Deployment) TableName() string {
	return "deployments"
}

// Transition moves the deployment to next, setting finish time and error on terminal statuses
func (d *Deployment) Transition(next DeploymentStatus, errMsg string) error {
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, next)
	}
	d.Status = next
	if next.IsTerminal() {
		now := time.Now().UTC()
		d.FinishedAt = &now
	}
	if next == DeploymentStatusFailed {
		d.Error = errMsg
	}
	return nil
}

// AppendLog appends a timestamped line to the log trail and returns it.
// A finished deployment is immutable and returns ErrDeploymentFinished.
func (d *Deployment) AppendLog(level LogLevel, step LogStep, message string) (DeploymentLog, error) {
	if d.Status.IsTerminal() {
		return DeploymentLog{}, ErrDeploymentFinished
	}
	entry := DeploymentLog{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Step:      step,
		Message:   message,
	}
	d.Logs = append(d.Logs, entry)
	return entry, nil
}

// Copy returns a deep copy of the deployment
func (d *Deployment) Copy() *Deployment {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Logs = append([]DeploymentLog(nil), d.Logs...)
	if d.FinishedAt != nil {
		t := *d.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
