package acquisition

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// File is one discovered input file. It references its FileInfo and, once acquired, its Product.
type File struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ChainID           uuid.UUID  `gorm:"type:uuid;column:chain_id;not null;index" json:"chain_id"`
	FileInfoID        uuid.UUID  `gorm:"type:uuid;column:file_info_id;not null;index:idx_acq_file_info_state,priority:1" json:"file_info_id"`
	ProductID         *uuid.UUID `gorm:"type:uuid;column:product_id;index" json:"product_id,omitempty"`
	FilePath          string     `gorm:"column:file_path;not null" json:"file_path"`
	State             FileState  `gorm:"column:state;not null;index:idx_acq_file_info_state,priority:2" json:"state"`
	AcquisitionDate   time.Time  `gorm:"column:acquisition_date;not null" json:"acquisition_date"`
	ModificationDate  *time.Time `gorm:"column:modification_date" json:"modification_date,omitempty"`
	Checksum          string     `gorm:"column:checksum" json:"checksum,omitempty"`
	ChecksumAlgorithm string     `gorm:"column:checksum_algorithm" json:"checksum_algorithm,omitempty"`
	Error             string     `gorm:"column:error" json:"error,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

func (File) TableName() string { return "acquisition_file" }

func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.AcquisitionDate.IsZero() {
		f.AcquisitionDate = time.Now().UTC()
	}
	return nil
}
