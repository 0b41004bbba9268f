package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/domain/jobs"
)

// AutoMigrateAll creates or updates every table and the partial indexes gorm tags cannot express.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// =========================
		// Acquisition configuration
		// =========================
		&acquisition.Chain{},
		&acquisition.FileInfo{},

		// =========================
		// Acquisition tracking
		// =========================
		&acquisition.File{},
		&acquisition.Product{},

		// =========================
		// Jobs
		// =========================
		&jobs.JobRun{},
	); err != nil {
		return err
	}
	if err := EnsureAcquisitionIndexes(db); err != nil {
		return err
	}
	return EnsureJobIndexes(db)
}

// EnsureAcquisitionIndexes works on both Postgres and SQLite (both support partial indexes).
func EnsureAcquisitionIndexes(db *gorm.DB) error {
	// A path is registered once per FileInfo, ERROR rows excepted so a rescan can retry them.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_acq_file_path_active
		ON acquisition_file (file_info_id, file_path)
		WHERE state <> 'ERROR';
	`).Error; err != nil {
		return fmt.Errorf("create idx_acq_file_path_active: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_acq_file_chain_state
		ON acquisition_file (chain_id, state);
	`).Error; err != nil {
		return fmt.Errorf("create idx_acq_file_chain_state: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_acq_product_chain_session_sip
		ON acquisition_product (chain_id, session, sip_state);
	`).Error; err != nil {
		return fmt.Errorf("create idx_acq_product_chain_session_sip: %w", err)
	}
	return nil
}

func EnsureJobIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_runnable
		ON job_run (status, created_at)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_runnable: %w", err)
	}
	return nil
}
