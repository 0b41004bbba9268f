package repos

import (
	"gorm.io/gorm"

	"github.com/regardsoss/dataprovider/internal/data/repos/acquisition"
	"github.com/regardsoss/dataprovider/internal/data/repos/jobs"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

type ChainRepo = acquisition.ChainRepo
type FileRepo = acquisition.FileRepo
type ProductRepo = acquisition.ProductRepo

type JobRunRepo = jobs.JobRunRepo

// Set holds every repository the service wires.
type Set struct {
	Chains   ChainRepo
	Files    FileRepo
	Products ProductRepo
	Jobs     JobRunRepo
}

func NewSet(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Chains:   acquisition.NewChainRepo(db, log),
		Files:    acquisition.NewFileRepo(db, log),
		Products: acquisition.NewProductRepo(db, log),
		Jobs:     jobs.NewJobRunRepo(db, log),
	}
}
