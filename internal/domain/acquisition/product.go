package acquisition

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Product groups acquired files under a unique name and carries the SIP built from them.
type Product struct {
	ID                      uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name                    string         `gorm:"column:name;not null;uniqueIndex;size:128" json:"name"`
	ChainID                 uuid.UUID      `gorm:"type:uuid;column:chain_id;not null;index" json:"chain_id"`
	Session                 string         `gorm:"column:session;not null;index;size:50" json:"session"`
	State                   ProductState   `gorm:"column:state;not null;index" json:"state"`
	SIPState                SIPState       `gorm:"column:sip_state;not null;index" json:"sip_state"`
	SIP                     datatypes.JSON `gorm:"column:sip;type:jsonb" json:"sip,omitempty"`
	IpID                    string         `gorm:"column:ip_id" json:"ip_id,omitempty"`
	Error                   string         `gorm:"column:error" json:"error,omitempty"`
	LastSIPGenerationJobID  *uuid.UUID     `gorm:"type:uuid;column:last_sip_generation_job_id" json:"last_sip_generation_job_id,omitempty"`
	LastSIPSubmissionJobID  *uuid.UUID     `gorm:"type:uuid;column:last_sip_submission_job_id" json:"last_sip_submission_job_id,omitempty"`
	LastPostProcessingJobID *uuid.UUID     `gorm:"type:uuid;column:last_post_processing_job_id" json:"last_post_processing_job_id,omitempty"`
	CreatedAt               time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"not null" json:"updated_at"`
}

func (Product) TableName() string { return "acquisition_product" }

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.State == "" {
		p.State = ProductAcquiring
	}
	if p.SIPState == "" {
		p.SIPState = SIPNotScheduled
	}
	return nil
}

// StateCount is one row of a grouped count.
type StateCount struct {
	State string `json:"state"`
	Count int64  `json:"count"`
}

// SessionCount is one row of a (session, state, sip_state) grouped count.
type SessionCount struct {
	Session  string       `gorm:"column:session" json:"session"`
	State    ProductState `gorm:"column:state" json:"state"`
	SIPState SIPState     `gorm:"column:sip_state" json:"sip_state"`
	Count    int64        `gorm:"column:count" json:"count"`
}

// SubmissionKey identifies one submission batch scope.
type SubmissionKey struct {
	IngestChain string `json:"ingest_chain"`
	Session     string `json:"session"`
}
