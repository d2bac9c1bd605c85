package store

import (
	"errors"
	"fmt"

	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrDeploymentNotFound is returned when no deployment has the requested ID
var ErrDeploymentNotFound = errors.New("deployment not found")

// DeploymentStore keeps deployment history in SQLite
type DeploymentStore struct {
	db *gorm.DB
}

// OpenDB opens the SQLite database and runs migrations
func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialize through one connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Deployment{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, nil
}

// NewDeploymentStore wraps an opened database
func NewDeploymentStore(db *gorm.DB) *DeploymentStore {
	return &DeploymentStore{db: db}
}

// Save inserts or updates a deployment
func (s *DeploymentStore) Save(d *models.Deployment) error {
	if err := s.db.Save(d).Error; err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// Get returns one deployment
func (s *DeploymentStore) Get(id string) (*models.Deployment, error) {
	var d models.Deployment
	if err := s.db.First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeploymentNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListByApp returns an application's deployments, newest first
func (s *DeploymentStore) ListByApp(appID string) ([]models.Deployment, error) {
	var list []models.Deployment
	if err := s.db.Where("app_id = ?", appID).Order("started_at DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListUnfinished returns deployments that never reached a terminal status
func (s *DeploymentStore) ListUnfinished() ([]models.Deployment, error) {
	var list []models.Deployment
	err := s.db.Where("status NOT IN ?", []models.DeploymentStatus{
		models.DeploymentStatusSuccess,
		models.DeploymentStatusFailed,
	}).Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Prune keeps only the newest keep finished deployments of an application
func (s *DeploymentStore) Prune(appID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var ids []string
	err := s.db.Model(&models.Deployment{}).
		Where("app_id = ? AND status IN ?", appID, []models.DeploymentStatus{
			models.DeploymentStatusSuccess,
			models.DeploymentStatusFailed,
		}).
		Order("started_at DESC").
		Offset(keep).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.Where("id IN ?", ids).Delete(&models.Deployment{})
	return res.RowsAffected, res.Error
}

// DeleteByApp removes an application's entire history
func (s *DeploymentStore) DeleteByApp(appID string) error {
	return s.db.Where("app_id = ?", appID).Delete(&models.Deployment{}).Error
}
