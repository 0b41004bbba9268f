package products

import (
	"github.com/google/uuid"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
)

// ComputeState derives completeness from the chain's FileInfos and the FileInfos represented by
// the product's ACQUIRED files. All mandatory infos present gives COMPLETED; all optional ones
// as well gives FINISHED.
func ComputeState(infos []types.FileInfo, acquired []uuid.UUID) types.ProductState {
	have := make(map[uuid.UUID]struct{}, len(acquired))
	for _, id := range acquired {
		have[id] = struct{}{}
	}
	var mandatory, mandatoryHave, optional, optionalHave int
	for _, fi := range infos {
		_, ok := have[fi.ID]
		if fi.Mandatory {
			mandatory++
			if ok {
				mandatoryHave++
			}
			continue
		}
		optional++
		if ok {
			optionalHave++
		}
	}
	if mandatoryHave < mandatory {
		return types.ProductAcquiring
	}
	if optionalHave < optional {
		return types.ProductCompleted
	}
	return types.ProductFinished
}
