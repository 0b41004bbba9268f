package acquisition

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type FileRepo interface {
	Create(dbc dbctx.Context, file *types.File) error
	FindActiveByPath(dbc dbctx.Context, fileInfoID uuid.UUID, path string) (*types.File, error)
	FindLatestErrorByPath(dbc dbctx.Context, fileInfoID uuid.UUID, path string) (*types.File, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.File, error)
	FindByState(dbc dbctx.Context, fileInfoID uuid.UUID, state types.FileState, after uuid.UUID, limit int) ([]*types.File, error)
	FindByProduct(dbc dbctx.Context, productID uuid.UUID, states ...types.FileState) ([]*types.File, error)
	CountByChainAndStates(dbc dbctx.Context, chainID uuid.UUID, states ...types.FileState) (int64, error)
	CountByChainGrouped(dbc dbctx.Context, chainID uuid.UUID) ([]types.StateCount, error)
	AcquiredFileInfoIDs(dbc dbctx.Context, productID uuid.UUID) ([]uuid.UUID, error)
	UpdateScan(dbc dbctx.Context, id uuid.UUID, checksum, algorithm string, lmd *time.Time, now time.Time) error
	Transition(dbc dbctx.Context, id uuid.UUID, from []types.FileState, to types.FileState, message string) (bool, error)
	RefreshError(dbc dbctx.Context, id uuid.UUID, message string, lmd *time.Time, now time.Time) (bool, error)
	AttachToProduct(dbc dbctx.Context, id uuid.UUID, productID uuid.UUID) (bool, error)
	RetryErrors(dbc dbctx.Context, chainID uuid.UUID) (int64, error)
	DeleteByProducts(dbc dbctx.Context, productIDs []uuid.UUID) error
}

type fileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileRepo(db *gorm.DB, baseLog *logger.Logger) FileRepo {
	return &fileRepo{
		db:  db,
		log: baseLog.With("repo", "FileRepo"),
	}
}

func (r *fileRepo) Create(dbc dbctx.Context, file *types.File) error {
	transaction := dbc.Or(r.db)
	return transaction.WithContext(dbc.Context()).Create(file).Error
}

// FindActiveByPath returns the non-ERROR record for path, or nil.
func (r *fileRepo) FindActiveByPath(dbc dbctx.Context, fileInfoID uuid.UUID, path string) (*types.File, error) {
	transaction := dbc.Or(r.db)
	var f types.File
	err := transaction.WithContext(dbc.Context()).
		Where("file_info_id = ? AND file_path = ? AND state <> ?", fileInfoID, path, types.FileError).
		Limit(1).
		Find(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

// FindLatestErrorByPath returns the most recent ERROR record of a path, or nil.
func (r *fileRepo) FindLatestErrorByPath(dbc dbctx.Context, fileInfoID uuid.UUID, path string) (*types.File, error) {
	transaction := dbc.Or(r.db)
	var f types.File
	err := transaction.WithContext(dbc.Context()).
		Where("file_info_id = ? AND file_path = ? AND state = ?", fileInfoID, path, types.FileError).
		Order("acquisition_date DESC, id DESC").
		Limit(1).
		Find(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

func (r *fileRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.File, error) {
	transaction := dbc.Or(r.db)
	var out []*types.File
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Context()).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindByState pages files of a FileInfo in one state, keyed on id.
func (r *fileRepo) FindByState(dbc dbctx.Context, fileInfoID uuid.UUID, state types.FileState, after uuid.UUID, limit int) ([]*types.File, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context()).
		Where("file_info_id = ? AND state = ?", fileInfoID, state)
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.File
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *fileRepo) FindByProduct(dbc dbctx.Context, productID uuid.UUID, states ...types.FileState) ([]*types.File, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context()).Where("product_id = ?", productID)
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	var out []*types.File
	if err := q.Order("file_path ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *fileRepo) CountByChainAndStates(dbc dbctx.Context, chainID uuid.UUID, states ...types.FileState) (int64, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context()).Model(&types.File{}).Where("chain_id = ?", chainID)
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *fileRepo) CountByChainGrouped(dbc dbctx.Context, chainID uuid.UUID) ([]types.StateCount, error) {
	transaction := dbc.Or(r.db)
	var out []types.StateCount
	if err := transaction.WithContext(dbc.Context()).
		Model(&types.File{}).
		Select("state AS state, COUNT(*) AS count").
		Where("chain_id = ?", chainID).
		Group("state").
		Order("state ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AcquiredFileInfoIDs lists the distinct FileInfos satisfied by ACQUIRED files of a product.
func (r *fileRepo) AcquiredFileInfoIDs(dbc dbctx.Context, productID uuid.UUID) ([]uuid.UUID, error) {
	transaction := dbc.Or(r.db)
	var ids []uuid.UUID
	if err := transaction.WithContext(dbc.Context()).
		Model(&types.File{}).
		Where("product_id = ? AND state = ?", productID, types.FileAcquired).
		Distinct("file_info_id").
		Pluck("file_info_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateScan records a re-discovery. Acquisition date and checksum move together.
func (r *fileRepo) UpdateScan(dbc dbctx.Context, id uuid.UUID, checksum, algorithm string, lmd *time.Time, now time.Time) error {
	transaction := dbc.Or(r.db)
	updates := map[string]interface{}{
		"acquisition_date":   now,
		"checksum":           checksum,
		"checksum_algorithm": algorithm,
		"updated_at":         now,
	}
	if lmd != nil {
		updates["modification_date"] = lmd.UTC()
	}
	return transaction.WithContext(dbc.Context()).
		Model(&types.File{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Transition moves a file to state `to` only if it currently is in one of `from`.
func (r *fileRepo) Transition(dbc dbctx.Context, id uuid.UUID, from []types.FileState, to types.FileState, message string) (bool, error) {
	transaction := dbc.Or(r.db)
	now := time.Now().UTC()
	res := transaction.WithContext(dbc.Context()).
		Model(&types.File{}).
		Where("id = ? AND state IN ?", id, from).
		Updates(map[string]interface{}{
			"state":      to,
			"error":      message,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RefreshError stamps a new failure on a record that is still in ERROR.
func (r *fileRepo) RefreshError(dbc dbctx.Context, id uuid.UUID, message string, lmd *time.Time, now time.Time) (bool, error) {
	transaction := dbc.Or(r.db)
	updates := map[string]interface{}{
		"error":            message,
		"acquisition_date": now,
		"updated_at":       now,
	}
	if lmd != nil {
		updates["modification_date"] = lmd.UTC()
	}
	res := transaction.WithContext(dbc.Context()).
		Model(&types.File{}).
		Where("id = ? AND state = ?", id, types.FileError).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AttachToProduct binds a VALID file to its product and marks it ACQUIRED in one statement.
func (r *fileRepo) AttachToProduct(dbc dbctx.Context, id uuid.UUID, productID uuid.UUID) (bool, error) {
	transaction := dbc.Or(r.db)
	now := time.Now().UTC()
	res := transaction.WithContext(dbc.Context()).
		Model(&types.File{}).
		Where("id = ? AND state = ?", id, types.FileValid).
		Updates(map[string]interface{}{
			"state":      types.FileAcquired,
			"product_id": productID,
			"error":      "",
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RetryErrors moves ERROR files back to IN_PROGRESS unless the same path was registered again since.
func (r *fileRepo) RetryErrors(dbc dbctx.Context, chainID uuid.UUID) (int64, error) {
	transaction := dbc.Or(r.db)
	now := time.Now().UTC()
	res := transaction.WithContext(dbc.Context()).Exec(`
		UPDATE acquisition_file
		SET state = ?, error = '', updated_at = ?
		WHERE chain_id = ? AND state = ?
		AND id = (
			SELECT latest.id FROM acquisition_file latest
			WHERE latest.file_info_id = acquisition_file.file_info_id
			AND latest.file_path = acquisition_file.file_path
			AND latest.state = ?
			ORDER BY latest.updated_at DESC, latest.id DESC
			LIMIT 1
		)
		AND NOT EXISTS (
			SELECT 1 FROM acquisition_file other
			WHERE other.file_info_id = acquisition_file.file_info_id
			AND other.file_path = acquisition_file.file_path
			AND other.state <> ?
		)
	`, types.FileInProgress, now, chainID, types.FileError, types.FileError, types.FileError)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *fileRepo) DeleteByProducts(dbc dbctx.Context, productIDs []uuid.UUID) error {
	transaction := dbc.Or(r.db)
	if len(productIDs) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Context()).
		Where("product_id IN ?", productIDs).
		Delete(&types.File{}).Error
}
