package files

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/regardsoss/dataprovider/internal/data/db"
	"github.com/regardsoss/dataprovider/internal/data/repos"
	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/observability"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

// Observation is one scanned path with its checksum outcome.
type Observation struct {
	ChainID    uuid.UUID
	FileInfoID uuid.UUID
	Path       string
	ModTime    *time.Time
	Checksum   string
	Algorithm  string
	Err        error
}

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeErrored Outcome = "errored"
	OutcomeKept    Outcome = "kept"
)

// Registry persists discovered files and their state.
type Registry struct {
	files  repos.FileRepo
	chains repos.ChainRepo
	log    *logger.Logger
}

func NewRegistry(files repos.FileRepo, chains repos.ChainRepo, baseLog *logger.Logger) *Registry {
	return &Registry{
		files:  files,
		chains: chains,
		log:    baseLog.With("service", "FileRegistry"),
	}
}

// RegisterOrUpdate records obs. A non-ERROR record for (path, FileInfo) is refreshed in place and
// keeps its state; otherwise a new IN_PROGRESS record is created. A checksum failure lands the
// file in ERROR instead of failing the call, except for records already ACQUIRED or INVALID,
// which are left as they are.
func (r *Registry) RegisterOrUpdate(dbc dbctx.Context, obs Observation) (*types.File, Outcome, error) {
	existing, err := r.files.FindActiveByPath(dbc, obs.FileInfoID, obs.Path)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()

	if obs.Err != nil {
		msg := obs.Err.Error()
		if existing == nil {
			prev, err := r.files.FindLatestErrorByPath(dbc, obs.FileInfoID, obs.Path)
			if err != nil {
				return nil, "", err
			}
			if prev != nil {
				refreshed, err := r.files.RefreshError(dbc, prev.ID, msg, obs.ModTime, now)
				if err != nil {
					return nil, "", err
				}
				if refreshed {
					prev.Error = msg
					prev.AcquisitionDate = now
					if obs.ModTime != nil {
						prev.ModificationDate = obs.ModTime
					}
					return prev, OutcomeErrored, nil
				}
			}
			f := &types.File{
				ChainID:           obs.ChainID,
				FileInfoID:        obs.FileInfoID,
				FilePath:          obs.Path,
				State:             types.FileError,
				AcquisitionDate:   now,
				ModificationDate:  obs.ModTime,
				ChecksumAlgorithm: obs.Algorithm,
				Error:             msg,
			}
			if err := r.files.Create(dbc, f); err != nil {
				return nil, "", err
			}
			countFile(types.FileError)
			return f, OutcomeErrored, nil
		}
		moved, err := r.files.Transition(dbc, existing.ID, []types.FileState{types.FileInProgress, types.FileValid}, types.FileError, msg)
		if err != nil {
			return nil, "", err
		}
		if !moved {
			r.log.Warn("checksum failed on a settled file, keeping its state",
				"path", obs.Path, "state", existing.State, "error", msg)
			return existing, OutcomeKept, nil
		}
		existing.State = types.FileError
		existing.Error = msg
		countFile(types.FileError)
		return existing, OutcomeErrored, nil
	}

	if existing != nil {
		if err := r.files.UpdateScan(dbc, existing.ID, obs.Checksum, obs.Algorithm, obs.ModTime, now); err != nil {
			return nil, "", err
		}
		existing.AcquisitionDate = now
		existing.Checksum = obs.Checksum
		existing.ChecksumAlgorithm = obs.Algorithm
		if obs.ModTime != nil {
			existing.ModificationDate = obs.ModTime
		}
		return existing, OutcomeUpdated, nil
	}

	f := &types.File{
		ChainID:           obs.ChainID,
		FileInfoID:        obs.FileInfoID,
		FilePath:          obs.Path,
		State:             types.FileInProgress,
		AcquisitionDate:   now,
		ModificationDate:  obs.ModTime,
		Checksum:          obs.Checksum,
		ChecksumAlgorithm: obs.Algorithm,
	}
	err = r.files.Create(dbc, f)
	if db.IsUniqueViolation(err) {
		// Registered concurrently: refresh the winner instead.
		again, ferr := r.files.FindActiveByPath(dbc, obs.FileInfoID, obs.Path)
		if ferr != nil || again == nil {
			return nil, "", fmt.Errorf("register %s: %w", obs.Path, err)
		}
		if err := r.files.UpdateScan(dbc, again.ID, obs.Checksum, obs.Algorithm, obs.ModTime, now); err != nil {
			return nil, "", err
		}
		return again, OutcomeUpdated, nil
	}
	if err != nil {
		return nil, "", err
	}
	countFile(types.FileInProgress)
	return f, OutcomeCreated, nil
}

func (r *Registry) FindByState(dbc dbctx.Context, fileInfoID uuid.UUID, state types.FileState, after uuid.UUID, limit int) ([]*types.File, error) {
	return r.files.FindByState(dbc, fileInfoID, state, after, limit)
}

// ForEachPage walks every file of a FileInfo in state, one keyset page at a time.
// fn may change the state of the files it receives.
func (r *Registry) ForEachPage(dbc dbctx.Context, fileInfoID uuid.UUID, state types.FileState, pageSize int, fn func(page []*types.File) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	after := uuid.Nil
	for {
		if err := dbc.Context().Err(); err != nil {
			return err
		}
		page, err := r.files.FindByState(dbc, fileInfoID, state, after, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (r *Registry) CountByChainAndStates(dbc dbctx.Context, chainID uuid.UUID, states ...types.FileState) (int64, error) {
	return r.files.CountByChainAndStates(dbc, chainID, states...)
}

// AdvanceWatermark raises the FileInfo last modification date to lmd if it is newer.
func (r *Registry) AdvanceWatermark(dbc dbctx.Context, fileInfoID uuid.UUID, lmd time.Time) error {
	if lmd.IsZero() {
		return nil
	}
	return r.chains.AdvanceWatermark(dbc, fileInfoID, lmd)
}

// Mark moves a file between states, recording msg. It reports false when the file was not in from.
func (r *Registry) Mark(dbc dbctx.Context, id uuid.UUID, from []types.FileState, to types.FileState, msg string) (bool, error) {
	ok, err := r.files.Transition(dbc, id, from, to, msg)
	if err == nil && ok {
		countFile(to)
	}
	return ok, err
}

// Retry moves the chain's ERROR files back to IN_PROGRESS.
func (r *Registry) Retry(dbc dbctx.Context, chainID uuid.UUID) (int64, error) {
	return r.files.RetryErrors(dbc, chainID)
}

func countFile(state types.FileState) {
	if m := observability.Current(); m != nil {
		m.IncFileState(string(state))
	}
}
