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

type ProductRepo interface {
	Create(dbc dbctx.Context, product *types.Product) error
	FindByName(dbc dbctx.Context, name string, forUpdate bool) (*types.Product, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Product, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Product, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	TransitionSIP(dbc dbctx.Context, id uuid.UUID, from []types.SIPState, to types.SIPState, updates map[string]interface{}) (bool, error)
	FindReadyForGeneration(dbc dbctx.Context, chainID uuid.UUID, sipStates []types.SIPState, limit int) ([]*types.Product, error)
	FindByChainSession(dbc dbctx.Context, chainID uuid.UUID, session string, sipStates ...types.SIPState) ([]*types.Product, error)
	PendingSubmissionKeys(dbc dbctx.Context) ([]types.SubmissionKey, error)
	ExistsForKey(dbc dbctx.Context, key types.SubmissionKey, state types.SIPState) (bool, error)
	FindForKey(dbc dbctx.Context, key types.SubmissionKey, state types.SIPState, limit int) ([]*types.Product, error)
	FlipForKey(dbc dbctx.Context, ids []uuid.UUID, from, to types.SIPState, jobID uuid.UUID) (int64, error)
	CountByChainGrouped(dbc dbctx.Context, chainID uuid.UUID) ([]types.StateCount, error)
	CountSIPErrors(dbc dbctx.Context, chainID uuid.UUID) (int64, error)
	CountPendingSIP(dbc dbctx.Context, chainID uuid.UUID, session string) (int64, error)
	SessionCounts(dbc dbctx.Context, chainID uuid.UUID) ([]types.SessionCount, error)
	IDsByChainSession(dbc dbctx.Context, chainID uuid.UUID, session string) ([]uuid.UUID, error)
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		db:  db,
		log: baseLog.With("repo", "ProductRepo"),
	}
}

func (r *productRepo) Create(dbc dbctx.Context, product *types.Product) error {
	transaction := dbc.Or(r.db)
	err := transaction.WithContext(dbc.Context()).Create(product).Error
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: product %q already exists", apperr.ErrConflict, product.Name)
	}
	return err
}

// FindByName returns nil when absent. forUpdate row-locks the product for the enclosing transaction.
func (r *productRepo) FindByName(dbc dbctx.Context, name string, forUpdate bool) (*types.Product, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context())
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p types.Product
	if err := q.Where("name = ?", name).Limit(1).Find(&p).Error; err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *productRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Product, error) {
	transaction := dbc.Or(r.db)
	var p types.Product
	err := transaction.WithContext(dbc.Context()).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Product, error) {
	transaction := dbc.Or(r.db)
	var out []*types.Product
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Context()).
		Where("id IN ?", ids).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Or(r.db)
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(dbc.Context()).
		Model(&types.Product{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TransitionSIP is a compare-and-set on sip_state; extra updates are written in the same statement.
func (r *productRepo) TransitionSIP(dbc dbctx.Context, id uuid.UUID, from []types.SIPState, to types.SIPState, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Or(r.db)
	if id == uuid.Nil || len(from) == 0 {
		return false, nil
	}
	fields := map[string]interface{}{}
	for k, v := range updates {
		fields[k] = v
	}
	fields["sip_state"] = to
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	res := transaction.WithContext(dbc.Context()).
		Model(&types.Product{}).
		Where("id = ? AND sip_state IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *productRepo) FindReadyForGeneration(dbc dbctx.Context, chainID uuid.UUID, sipStates []types.SIPState, limit int) ([]*types.Product, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context()).
		Where("chain_id = ? AND state IN ? AND sip_state IN ?",
			chainID,
			[]types.ProductState{types.ProductCompleted, types.ProductFinished},
			sipStates,
		).
		Order("updated_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Product
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) FindByChainSession(dbc dbctx.Context, chainID uuid.UUID, session string, sipStates ...types.SIPState) ([]*types.Product, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context()).Where("chain_id = ?", chainID)
	if session != "" {
		q = q.Where("session = ?", session)
	}
	if len(sipStates) > 0 {
		q = q.Where("sip_state IN ?", sipStates)
	}
	var out []*types.Product
	if err := q.Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// PendingSubmissionKeys lists (ingest chain, session) pairs that have GENERATED products.
func (r *productRepo) PendingSubmissionKeys(dbc dbctx.Context) ([]types.SubmissionKey, error) {
	transaction := dbc.Or(r.db)
	var out []types.SubmissionKey
	if err := transaction.WithContext(dbc.Context()).
		Table("acquisition_product AS p").
		Select("DISTINCT c.ingest_chain AS ingest_chain, p.session AS session").
		Joins("JOIN acquisition_chain c ON c.id = p.chain_id").
		Where("p.sip_state = ?", types.SIPGenerated).
		Order("ingest_chain ASC, session ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) ExistsForKey(dbc dbctx.Context, key types.SubmissionKey, state types.SIPState) (bool, error) {
	transaction := dbc.Or(r.db)
	var count int64
	if err := transaction.WithContext(dbc.Context()).
		Table("acquisition_product AS p").
		Joins("JOIN acquisition_chain c ON c.id = p.chain_id").
		Where("c.ingest_chain = ? AND p.session = ? AND p.sip_state = ?", key.IngestChain, key.Session, state).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *productRepo) FindForKey(dbc dbctx.Context, key types.SubmissionKey, state types.SIPState, limit int) ([]*types.Product, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context()).
		Where("session = ? AND sip_state = ?", key.Session, state).
		Where("chain_id IN (?)", transaction.Session(&gorm.Session{NewDB: true}).Model(&types.Chain{}).Select("id").Where("ingest_chain = ?", key.IngestChain)).
		Order("updated_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Product
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FlipForKey moves a batch of products from one SIP state to another, recording the submission job.
func (r *productRepo) FlipForKey(dbc dbctx.Context, ids []uuid.UUID, from, to types.SIPState, jobID uuid.UUID) (int64, error) {
	transaction := dbc.Or(r.db)
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Context()).
		Model(&types.Product{}).
		Where("id IN ? AND sip_state = ?", ids, from).
		Updates(map[string]interface{}{
			"sip_state":                  to,
			"last_sip_submission_job_id": jobID,
			"updated_at":                 time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *productRepo) CountByChainGrouped(dbc dbctx.Context, chainID uuid.UUID) ([]types.StateCount, error) {
	transaction := dbc.Or(r.db)
	var out []types.StateCount
	if err := transaction.WithContext(dbc.Context()).
		Model(&types.Product{}).
		Select("state AS state, COUNT(*) AS count").
		Where("chain_id = ?", chainID).
		Group("state").
		Order("state ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) CountSIPErrors(dbc dbctx.Context, chainID uuid.UUID) (int64, error) {
	transaction := dbc.Or(r.db)
	var count int64
	if err := transaction.WithContext(dbc.Context()).
		Model(&types.Product{}).
		Where("chain_id = ? AND sip_state IN ?", chainID, []types.SIPState{
			types.SIPGenerationError, types.SIPSubmissionError, types.SIPIngestionFailed,
		}).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountPendingSIP counts products with in-flight generation or submission. Empty session means all.
func (r *productRepo) CountPendingSIP(dbc dbctx.Context, chainID uuid.UUID, session string) (int64, error) {
	transaction := dbc.Or(r.db)
	q := transaction.WithContext(dbc.Context()).
		Model(&types.Product{}).
		Where("chain_id = ? AND sip_state IN ?", chainID, []types.SIPState{types.SIPScheduled, types.SIPSubmissionScheduled})
	if session != "" {
		q = q.Where("session = ?", session)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *productRepo) SessionCounts(dbc dbctx.Context, chainID uuid.UUID) ([]types.SessionCount, error) {
	transaction := dbc.Or(r.db)
	var out []types.SessionCount
	if err := transaction.WithContext(dbc.Context()).
		Model(&types.Product{}).
		Select("session AS session, state AS state, sip_state AS sip_state, COUNT(*) AS count").
		Where("chain_id = ?", chainID).
		Group("session, state, sip_state").
		Order("session ASC, state ASC, sip_state ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) IDsByChainSession(dbc dbctx.Context, chainID uuid.UUID, session string) ([]uuid.UUID, error) {
	transaction := dbc.Or(r.db)
	var ids []uuid.UUID
	if err := transaction.WithContext(dbc.Context()).
		Model(&types.Product{}).
		Where("chain_id = ? AND session = ?", chainID, session).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *productRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	transaction := dbc.Or(r.db)
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Context()).Where("id IN ?", ids).Delete(&types.Product{}).Error
}
