package ingest

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// SIP is one package handed to the ingestion service.
type SIP struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Payload     json.RawMessage `json:"sip"`
}

// Batch is the unit of submission: every SIP shares the ingest chain and session.
type Batch struct {
	ID          uuid.UUID `json:"request_id"`
	IngestChain string    `json:"ingest_chain"`
	Session     string    `json:"session"`
	Owner       string    `json:"session_owner"`
	SIPs        []SIP     `json:"sips"`
}

// Result reports the acceptance of one SIP of the batch.
type Result struct {
	ProductName string `json:"product_name"`
	Accepted    bool   `json:"accepted"`
	Error       string `json:"error,omitempty"`
}

type BatchResult struct {
	Results []Result `json:"results"`
}

// ByProduct indexes results by product name.
func (r BatchResult) ByProduct() map[string]Result {
	out := make(map[string]Result, len(r.Results))
	for _, res := range r.Results {
		out[res.ProductName] = res
	}
	return out
}

// Sink submits batches. An error means the whole batch was not delivered.
type Sink interface {
	Submit(ctx context.Context, batch Batch) (BatchResult, error)
}
