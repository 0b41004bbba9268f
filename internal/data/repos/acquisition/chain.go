package acquisition

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/regardsoss/dataprovider/internal/data/db"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type ChainRepo interface {
	Create(dbc dbctx.Context, chain *types.Chain) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chain, error)
	GetByLabel(dbc dbctx.Context, label string) (*types.Chain, error)
	List(dbc dbctx.Context) ([]*types.Chain, error)
	ListAutomatic(dbc dbctx.Context) ([]*types.Chain, error)
	Update(dbc dbctx.Context, chain *types.Chain) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
	SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error
	TryLock(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID, now time.Time) (bool, error)
	Unlock(dbc dbctx.Context, id uuid.UUID, jobID *uuid.UUID) (bool, error)
	IsRunning(dbc dbctx.Context, id uuid.UUID) (bool, error)
	LockByIngestChain(dbc dbctx.Context, ingestChain string) ([]uuid.UUID, error)
	AdvanceWatermark(dbc dbctx.Context, fileInfoID uuid.UUID, lmd time.Time) error
}

type chainRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChainRepo(db *gorm.DB, baseLog *logger.Logger) ChainRepo {
	return &chainRepo{
		db:  db,
		log: baseLog.With("repo", "ChainRepo"),
	}
}

func (r *chainRepo) Create(dbc dbctx.Context, chain *types.Chain) error {
	transaction := dbc.Or(r.db)
	if chain == nil {
		return fmt.Errorf("%w: nil chain", apperr.ErrInvalidArgument)
	}
	err := transaction.WithContext(dbc.Context()).Create(chain).Error
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: chain label %q already used", apperr.ErrConflict, chain.Label)
	}
	return err
}

func (r *chainRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chain, error) {
	transaction := dbc.Or(r.db)
	var chain types.Chain
	err := transaction.WithContext(dbc.Context()).
		Preload("FileInfos", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("chain %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

func (r *chainRepo) GetByLabel(dbc dbctx.Context, label string) (*types.Chain, error) {
	transaction := dbc.Or(r.db)
	var chain types.Chain
	err := transaction.WithContext(dbc.Context()).
		Preload("FileInfos", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC, id ASC") }).
		Where("label = ?", label).
		First(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("chain %q: %w", label, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

func (r *chainRepo) List(dbc dbctx.Context) ([]*types.Chain, error) {
	transaction := dbc.Or(r.db)
	var out []*types.Chain
	if err := transaction.WithContext(dbc.Context()).
		Preload("FileInfos", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC, id ASC") }).
		Order("label ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chainRepo) ListAutomatic(dbc dbctx.Context) ([]*types.Chain, error) {
	transaction := dbc.Or(r.db)
	var out []*types.Chain
	if err := transaction.WithContext(dbc.Context()).
		Where("mode = ? AND active = ? AND running = ?", types.ModeAutomatic, true, false).
		Order("label ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Update rewrites the chain configuration and synchronizes its FileInfos. Run-state columns
// (running, last_activation_date, last_job_id) are owned by TryLock/Unlock and left untouched.
func (r *chainRepo) Update(dbc dbctx.Context, chain *types.Chain) error {
	transaction := dbc.Or(r.db)
	if chain == nil || chain.ID == uuid.Nil {
		return fmt.Errorf("%w: chain id required", apperr.ErrInvalidArgument)
	}
	return transaction.WithContext(dbc.Context()).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&types.Chain{}).
			Where("id = ?", chain.ID).
			Select("*").
			Omit("id", "running", "last_activation_date", "last_job_id", "created_at", clause.Associations).
			Updates(chain)
		if db.IsUniqueViolation(res.Error) {
			return fmt.Errorf("%w: chain label %q already used", apperr.ErrConflict, chain.Label)
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("chain %s: %w", chain.ID, apperr.ErrNotFound)
		}

		keep := make([]uuid.UUID, 0, len(chain.FileInfos))
		for i := range chain.FileInfos {
			fi := &chain.FileInfos[i]
			fi.ChainID = chain.ID
			if fi.ID == uuid.Nil {
				if err := txx.Create(fi).Error; err != nil {
					return err
				}
			} else {
				upd := txx.Model(&types.FileInfo{}).
					Where("id = ? AND chain_id = ?", fi.ID, chain.ID).
					Select("comment", "mandatory", "mime_type", "data_type", "scan_plugin_id", "scan_params", "updated_at").
					Updates(fi)
				if upd.Error != nil {
					return upd.Error
				}
				if upd.RowsAffected == 0 {
					return fmt.Errorf("%w: file info %s does not belong to chain", apperr.ErrInvalidArgument, fi.ID)
				}
			}
			keep = append(keep, fi.ID)
		}

		var referenced int64
		if err := txx.Model(&types.File{}).
			Where("chain_id = ? AND file_info_id NOT IN ?", chain.ID, keep).
			Count(&referenced).Error; err != nil {
			return err
		}
		if referenced > 0 {
			return fmt.Errorf("%w: cannot remove file infos that already reference files", apperr.ErrConflict)
		}
		return txx.Where("chain_id = ? AND id NOT IN ?", chain.ID, keep).Delete(&types.FileInfo{}).Error
	})
}

func (r *chainRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Or(r.db)
	return transaction.WithContext(dbc.Context()).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("chain_id = ?", id).Delete(&types.File{}).Error; err != nil {
			return err
		}
		if err := txx.Where("chain_id = ?", id).Delete(&types.Product{}).Error; err != nil {
			return err
		}
		if err := txx.Where("chain_id = ?", id).Delete(&types.FileInfo{}).Error; err != nil {
			return err
		}
		return txx.Where("id = ?", id).Delete(&types.Chain{}).Error
	})
}

func (r *chainRepo) SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error {
	transaction := dbc.Or(r.db)
	res := transaction.WithContext(dbc.Context()).
		Model(&types.Chain{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chain %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// TryLock is the chain mutual exclusion point: it flips running from false to true in a
// single conditional UPDATE, so exactly one concurrent caller observes RowsAffected == 1.
func (r *chainRepo) TryLock(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID, now time.Time) (bool, error) {
	transaction := dbc.Or(r.db)
	res := transaction.WithContext(dbc.Context()).
		Model(&types.Chain{}).
		Where("id = ? AND running = ? AND active = ?", id, false, true).
		Updates(map[string]interface{}{
			"running":              true,
			"last_activation_date": now,
			"last_job_id":          jobID,
			"updated_at":           now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Unlock releases the run flag. When jobID is set, only the run that took the lock releases it.
func (r *chainRepo) Unlock(dbc dbctx.Context, id uuid.UUID, jobID *uuid.UUID) (bool, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context()).
		Model(&types.Chain{}).
		Where("id = ? AND running = ?", id, true)
	if jobID != nil && *jobID != uuid.Nil {
		q = q.Where("last_job_id = ?", *jobID)
	}
	res := q.Updates(map[string]interface{}{"running": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *chainRepo) IsRunning(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Or(r.db)
	var running []bool
	if err := transaction.WithContext(dbc.Context()).
		Model(&types.Chain{}).
		Where("id = ?", id).
		Pluck("running", &running).Error; err != nil {
		return false, err
	}
	if len(running) == 0 {
		return false, fmt.Errorf("chain %s: %w", id, apperr.ErrNotFound)
	}
	return running[0], nil
}

// LockByIngestChain row-locks every chain feeding ingestChain. Must run inside a transaction;
// it serializes submission scheduling for that ingest chain on Postgres.
func (r *chainRepo) LockByIngestChain(dbc dbctx.Context, ingestChain string) ([]uuid.UUID, error) {
	transaction := dbc.Or(r.db)
	var ids []uuid.UUID
	if err := transaction.WithContext(dbc.Context()).
		Model(&types.Chain{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("ingest_chain = ?", ingestChain).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// AdvanceWatermark moves a FileInfo's last modification date forward, never backward.
func (r *chainRepo) AdvanceWatermark(dbc dbctx.Context, fileInfoID uuid.UUID, lmd time.Time) error {
	transaction := dbc.Or(r.db)
	lmd = lmd.UTC()
	return transaction.WithContext(dbc.Context()).
		Model(&types.FileInfo{}).
		Where("id = ? AND (last_modification_date IS NULL OR last_modification_date < ?)", fileInfoID, lmd).
		Updates(map[string]interface{}{
			"last_modification_date": lmd,
			"updated_at":             time.Now().UTC(),
		}).Error
}
