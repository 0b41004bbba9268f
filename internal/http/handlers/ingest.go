package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/regardsoss/dataprovider/internal/http/response"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/sip"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

type IngestHandler struct {
	sip *sip.Service
}

func NewIngestHandler(svc *sip.Service) *IngestHandler {
	return &IngestHandler{sip: svc}
}

// POST /api/ingest/events
//
// Accepts a single event or an array of events. Per-event failures are reported in the body and
// do not fail the request.
func (h *IngestHandler) Events(c *gin.Context) {
	var batch []sip.IngestEvent
	if err := c.ShouldBindBodyWithJSON(&batch); err != nil {
		var one sip.IngestEvent
		if err2 := c.ShouldBindBodyWithJSON(&one); err2 != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err2)
			return
		}
		batch = []sip.IngestEvent{one}
	}

	type result struct {
		ProductName string `json:"product_name"`
		State       string `json:"sip_state,omitempty"`
		Error       string `json:"error,omitempty"`
	}
	out := make([]result, 0, len(batch))
	accepted := 0
	for _, ev := range batch {
		product, err := h.sip.HandleIngestEvent(dbctx.Context{Ctx: c.Request.Context()}, ev)
		if err != nil {
			out = append(out, result{ProductName: ev.ProductName, Error: err.Error()})
			continue
		}
		accepted++
		out = append(out, result{ProductName: ev.ProductName, State: string(product.SIPState)})
	}
	response.RespondOK(c, gin.H{"accepted": accepted, "results": out})
}
