package chains

import (
	"sort"

	"github.com/google/uuid"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

// Summary is the monitoring view of one chain.
type Summary struct {
	Chain              *types.Chain `json:"chain"`
	Running            bool         `json:"running"`
	ProductsTotal      int64        `json:"products_total"`
	ProductsInProgress int64        `json:"products_in_progress"`
	ProductErrors      int64        `json:"product_errors"`
	FilesTotal         int64        `json:"files_total"`
	FilesInProgress    int64        `json:"files_in_progress"`
	FileErrors         int64        `json:"file_errors"`
}

// SessionSummary counts the products of one session by completeness and SIP state.
type SessionSummary struct {
	Session    string           `json:"session"`
	Total      int64            `json:"total"`
	ByState    map[string]int64 `json:"by_state"`
	BySIPState map[string]int64 `json:"by_sip_state"`
}

func (s *Service) Monitor(dbc dbctx.Context, id uuid.UUID) (*Summary, error) {
	chain, err := s.chains.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	return s.summarize(dbc, chain)
}

// MonitorAll summarizes every chain, ordered by label.
func (s *Service) MonitorAll(dbc dbctx.Context) ([]*Summary, error) {
	list, err := s.chains.List(dbc)
	if err != nil {
		return nil, err
	}
	out := make([]*Summary, 0, len(list))
	for _, c := range list {
		sum, err := s.summarize(dbc, c)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) summarize(dbc dbctx.Context, chain *types.Chain) (*Summary, error) {
	sum := &Summary{Chain: chain, Running: chain.Running}

	productCounts, err := s.products.CountByChainGrouped(dbc, chain.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range productCounts {
		sum.ProductsTotal += c.Count
		switch types.ProductState(c.State) {
		case types.ProductAcquiring, types.ProductCompleted:
			sum.ProductsInProgress += c.Count
		}
	}
	if sum.ProductErrors, err = s.products.CountSIPErrors(dbc, chain.ID); err != nil {
		return nil, err
	}

	fileCounts, err := s.files.CountByChainGrouped(dbc, chain.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range fileCounts {
		sum.FilesTotal += c.Count
		switch types.FileState(c.State) {
		case types.FileInProgress, types.FileValid:
			sum.FilesInProgress += c.Count
		case types.FileError:
			sum.FileErrors += c.Count
		}
	}
	return sum, nil
}

func (s *Service) SessionSummaries(dbc dbctx.Context, id uuid.UUID) ([]SessionSummary, error) {
	if _, err := s.chains.GetByID(dbc, id); err != nil {
		return nil, err
	}
	rows, err := s.products.SessionCounts(dbc, id)
	if err != nil {
		return nil, err
	}
	bySession := map[string]*SessionSummary{}
	for _, r := range rows {
		ss, ok := bySession[r.Session]
		if !ok {
			ss = &SessionSummary{Session: r.Session, ByState: map[string]int64{}, BySIPState: map[string]int64{}}
			bySession[r.Session] = ss
		}
		ss.Total += r.Count
		ss.ByState[string(r.State)] += r.Count
		ss.BySIPState[string(r.SIPState)] += r.Count
	}
	out := make([]SessionSummary, 0, len(bySession))
	for _, ss := range bySession {
		out = append(out, *ss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out, nil
}
