package products

import (
	"errors"
	"fmt"

	"github.com/regardsoss/dataprovider/internal/data/aggregates"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/events"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

// AttachResult describes the product after a file was attached.
type AttachResult struct {
	Product  *types.Product
	Previous types.ProductState
	Created  bool
	Attached bool
}

// Aggregator groups acquired files under products and maintains their completeness.
type Aggregator struct {
	tx       aggregates.TxRunner
	products repos.ProductRepo
	files    repos.FileRepo
	events   *events.Publisher
	log      *logger.Logger
}

func NewAggregator(tx aggregates.TxRunner, products repos.ProductRepo, files repos.FileRepo, pub *events.Publisher, baseLog *logger.Logger) *Aggregator {
	return &Aggregator{
		tx:       tx,
		products: products,
		files:    files,
		events:   pub,
		log:      baseLog.With("service", "ProductAggregator"),
	}
}

// Attach binds a VALID file to the product named name, creating the product when absent, then
// recomputes its state. The state never moves backward. A product owned by another chain is a
// conflict and the file is left untouched.
func (a *Aggregator) Attach(dbc dbctx.Context, chain *types.Chain, session string, name string, file *types.File) (*AttachResult, error) {
	if chain == nil || file == nil {
		return nil, fmt.Errorf("%w: chain and file required", apperr.ErrInvalidArgument)
	}
	if name == "" || len(name) > types.MaxProductNameLength {
		return nil, fmt.Errorf("%w: invalid product name %q", apperr.ErrInvalidArgument, name)
	}

	var out *AttachResult
	err := a.tx.InTx(dbc, func(dbc dbctx.Context) error {
		res := &AttachResult{}
		product, err := a.products.FindByName(dbc, name, true)
		if err != nil {
			return err
		}
		if product == nil {
			product, res.Created, err = a.create(dbc, chain, session, name)
			if err != nil {
				return err
			}
		}
		if product.ChainID != chain.ID {
			return fmt.Errorf("%w: product %q belongs to another chain", apperr.ErrConflict, name)
		}
		res.Previous = product.State

		attached, err := a.files.AttachToProduct(dbc, file.ID, product.ID)
		if err != nil {
			return err
		}
		res.Attached = attached
		if attached {
			file.State = types.FileAcquired
			file.ProductID = &product.ID
		}

		acquired, err := a.files.AcquiredFileInfoIDs(dbc, product.ID)
		if err != nil {
			return err
		}
		next := product.State.Advance(ComputeState(chain.FileInfos, acquired))
		updates := map[string]interface{}{}
		if next != product.State {
			updates["state"] = next
		}
		if attached && product.SIPState == types.SIPNotScheduled && product.Session != session && session != "" {
			updates["session"] = session
		}
		if len(updates) > 0 {
			if err := a.products.UpdateFields(dbc, product.ID, updates); err != nil {
				return err
			}
			product.State = next
			if s, ok := updates["session"].(string); ok {
				product.Session = s
			}
		}
		res.Product = product
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Product.State != out.Previous {
		if m := observability.Current(); m != nil {
			m.IncProductState(string(out.Product.State))
		}
		a.events.ProductState(dbc.Context(), chain.Label, out.Product, out.Previous)
	}
	return out, nil
}

// create inserts a fresh product. Losing a creation race re-reads the winner.
func (a *Aggregator) create(dbc dbctx.Context, chain *types.Chain, session, name string) (*types.Product, bool, error) {
	product := &types.Product{
		Name:     name,
		ChainID:  chain.ID,
		Session:  session,
		State:    types.ProductAcquiring,
		SIPState: types.SIPNotScheduled,
	}
	err := aggregates.Savepoint(dbc, func(dbc dbctx.Context) error {
		return a.products.Create(dbc, product)
	})
	if err == nil {
		return product, true, nil
	}
	if !errors.Is(err, apperr.ErrConflict) {
		return nil, false, err
	}
	existing, ferr := a.products.FindByName(dbc, name, true)
	if ferr != nil {
		return nil, false, ferr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindProductsReadyForSipGeneration lists complete products awaiting generation. GENERATION_ERROR
// products are included when the chain allows generation retries.
func (a *Aggregator) FindProductsReadyForSipGeneration(dbc dbctx.Context, chain *types.Chain, limit int) ([]*types.Product, error) {
	states := []types.SIPState{types.SIPNotScheduled}
	if chain.GenerationRetryEnabled {
		states = append(states, types.SIPGenerationError)
	}
	return a.products.FindReadyForGeneration(dbc, chain.ID, states, limit)
}

// ProductView is a product with the files currently attached to it.
type ProductView struct {
	*types.Product
	Files []*types.File `json:"files"`
}

func (a *Aggregator) Get(dbc dbctx.Context, name string) (*ProductView, error) {
	product, err := a.products.FindByName(dbc, name, false)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: product %q", apperr.ErrNotFound, name)
	}
	files, err := a.files.FindByProduct(dbc, product.ID)
	if err != nil {
		return nil, err
	}
	return &ProductView{Product: product, Files: files}, nil
}
