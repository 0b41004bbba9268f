package acquisition

// FileState tracks one AcquisitionFile through scan, validation and product attachment.
type FileState string

const (
	FileInProgress FileState = "IN_PROGRESS"
	FileValid      FileState = "VALID"
	FileAcquired   FileState = "ACQUIRED"
	FileInvalid    FileState = "INVALID"
	FileError      FileState = "ERROR"
)

// ProductState is the completeness of a product. It only moves forward.
type ProductState string

const (
	ProductAcquiring ProductState = "ACQUIRING"
	ProductCompleted ProductState = "COMPLETED"
	ProductFinished  ProductState = "FINISHED"
)

func (s ProductState) rank() int {
	switch s {
	case ProductCompleted:
		return 1
	case ProductFinished:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s is as complete as other.
func (s ProductState) AtLeast(other ProductState) bool { return s.rank() >= other.rank() }

// Advance returns the more complete of the current and computed states.
func (s ProductState) Advance(computed ProductState) ProductState {
	if computed.rank() > s.rank() {
		return computed
	}
	return s
}

// Ready reports whether the product may enter SIP generation.
func (s ProductState) Ready() bool { return s == ProductCompleted || s == ProductFinished }

// SIPState tracks archival package generation and submission independently of completeness.
type SIPState string

const (
	SIPNotScheduled        SIPState = "NOT_SCHEDULED"
	SIPScheduled           SIPState = "SCHEDULED"
	SIPGenerated           SIPState = "GENERATED"
	SIPGenerationError     SIPState = "GENERATION_ERROR"
	SIPSubmissionScheduled SIPState = "SUBMISSION_SCHEDULED"
	SIPSubmitted           SIPState = "SUBMITTED"
	SIPSubmissionError     SIPState = "SUBMISSION_ERROR"
	SIPIngested            SIPState = "INGESTED"
	SIPIngestionFailed     SIPState = "INGESTION_FAILED"
)

// IsError reports the recoverable error branches.
func (s SIPState) IsError() bool {
	return s == SIPGenerationError || s == SIPSubmissionError || s == SIPIngestionFailed
}

// ChainMode selects how a chain is triggered.
type ChainMode string

const (
	ModeManual    ChainMode = "MANUAL"
	ModeAutomatic ChainMode = "AUTOMATIC"
)

const (
	ChecksumMD5 = "MD5"

	MaxLabelLength       = 64
	MaxSessionLength     = 50
	MaxProductNameLength = 128
	MinPeriodicitySecs   = 10
	DefaultBulkLimit     = 10000
)
