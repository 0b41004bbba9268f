package acquisition

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PluginConf points at a registered plugin and carries its parameters.
type PluginConf struct {
	PluginID string            `gorm:"column:plugin_id" json:"plugin_id" yaml:"plugin" validate:"omitempty,max=128"`
	Params   datatypes.JSONMap `gorm:"column:params;type:jsonb" json:"params,omitempty" yaml:"params,omitempty"`
}

func (p PluginConf) IsSet() bool { return p.PluginID != "" }

// Chain is one configured acquisition processing pipeline.
type Chain struct {
	ID                     uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Label                  string     `gorm:"column:label;not null;uniqueIndex;size:64" json:"label" validate:"required,max=64"`
	Active                 bool       `gorm:"column:active;not null" json:"active"`
	Mode                   ChainMode  `gorm:"column:mode;not null" json:"mode" validate:"required,oneof=MANUAL AUTOMATIC"`
	Periodicity            *int64     `gorm:"column:periodicity" json:"periodicity,omitempty" validate:"required_if=Mode AUTOMATIC,omitempty,min=10"`
	IngestChain            string     `gorm:"column:ingest_chain;not null;index" json:"ingest_chain" validate:"required,max=128"`
	Dataset                string     `gorm:"column:dataset" json:"dataset,omitempty"`
	Running                bool       `gorm:"column:running;not null" json:"running"`
	LastActivationDate     *time.Time `gorm:"column:last_activation_date" json:"last_activation_date,omitempty"`
	LastJobID              *uuid.UUID `gorm:"type:uuid;column:last_job_id" json:"last_job_id,omitempty"`
	ChecksumAlgorithm      string     `gorm:"column:checksum_algorithm;not null" json:"checksum_algorithm"`
	GenerationRetryEnabled bool       `gorm:"column:generation_retry_enabled;not null" json:"generation_retry_enabled"`
	SubmissionRetryEnabled bool       `gorm:"column:submission_retry_enabled;not null" json:"submission_retry_enabled"`

	Validation     PluginConf `gorm:"embedded;embeddedPrefix:validation_" json:"validation"`
	Naming         PluginConf `gorm:"embedded;embeddedPrefix:naming_" json:"naming"`
	Generation     PluginConf `gorm:"embedded;embeddedPrefix:generation_" json:"generation"`
	PostProcessing PluginConf `gorm:"embedded;embeddedPrefix:post_processing_" json:"post_processing"`

	FileInfos []FileInfo `gorm:"foreignKey:ChainID" json:"file_infos" validate:"required,min=1,dive"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Chain) TableName() string { return "acquisition_chain" }

func (c *Chain) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ChecksumAlgorithm == "" {
		c.ChecksumAlgorithm = ChecksumMD5
	}
	return nil
}

// Period returns the automatic trigger period, zero for manual chains.
func (c *Chain) Period() time.Duration {
	if c.Periodicity == nil {
		return 0
	}
	return time.Duration(*c.Periodicity) * time.Second
}

// Due reports whether an automatic chain should be triggered at now.
func (c *Chain) Due(now time.Time) bool {
	if c.Mode != ModeAutomatic || !c.Active || c.Running {
		return false
	}
	if c.LastActivationDate == nil {
		return true
	}
	return !c.LastActivationDate.Add(c.Period()).After(now)
}

// FileInfo declares one category of expected input file for a chain.
type FileInfo struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ChainID              uuid.UUID  `gorm:"type:uuid;column:chain_id;not null;index" json:"chain_id"`
	Comment              string     `gorm:"column:comment" json:"comment,omitempty"`
	Mandatory            bool       `gorm:"column:mandatory;not null" json:"mandatory"`
	MimeType             string     `gorm:"column:mime_type;not null" json:"mime_type" validate:"required"`
	DataType             string     `gorm:"column:data_type;not null" json:"data_type" validate:"required"`
	ScanPlugin           PluginConf `gorm:"embedded;embeddedPrefix:scan_" json:"scan_plugin"`
	LastModificationDate *time.Time `gorm:"column:last_modification_date" json:"last_modification_date,omitempty"`
	CreatedAt            time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"not null" json:"updated_at"`
}

func (FileInfo) TableName() string { return "acquisition_file_info" }

func (f *FileInfo) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
