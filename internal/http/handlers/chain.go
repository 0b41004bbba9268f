package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/http/response"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/chains"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/files"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/runner"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/sip"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

type ChainHandler struct {
	chains *chains.Service
	runner *runner.Runner
	sip    *sip.Service
	files  *files.Registry
}

func NewChainHandler(chainSvc *chains.Service, run *runner.Runner, sipSvc *sip.Service, registry *files.Registry) *ChainHandler {
	return &ChainHandler{chains: chainSvc, runner: run, sip: sipSvc, files: registry}
}

func chainID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_chain_id", err)
		return uuid.Nil, false
	}
	return id, true
}

func dbcOf(c *gin.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Request.Context()}
}

// GET /api/chains
func (h *ChainHandler) List(c *gin.Context) {
	summaries, err := h.chains.MonitorAll(dbcOf(c))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chains": summaries})
}

// POST /api/chains
func (h *ChainHandler) Create(c *gin.Context) {
	var chain types.Chain
	if err := c.ShouldBindJSON(&chain); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	created, err := h.chains.Create(dbcOf(c), &chain)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"chain": created})
}

// GET /api/chains/:id
func (h *ChainHandler) Get(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	summary, err := h.chains.Monitor(dbcOf(c), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chain": summary.Chain, "summary": summary})
}

// PUT /api/chains/:id
func (h *ChainHandler) Update(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	var chain types.Chain
	if err := c.ShouldBindJSON(&chain); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	chain.ID = id
	updated, err := h.chains.Update(dbcOf(c), &chain)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chain": updated})
}

// DELETE /api/chains/:id
func (h *ChainHandler) Delete(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	if err := h.chains.Delete(dbcOf(c), id); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PATCH /api/chains/:id/active
func (h *ChainHandler) SetActive(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	chain, err := h.chains.SetActive(dbcOf(c), id, *req.Active)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chain": chain})
}

// POST /api/chains/:id/start
func (h *ChainHandler) Start(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	var req struct {
		Session string `json:"session"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	started, err := h.runner.StartManualChain(dbcOf(c), id, req.Session)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session": started.Session, "job": started.Job})
}

// POST /api/chains/:id/stop
func (h *ChainHandler) Stop(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	stopped, err := h.runner.StopChain(dbcOf(c), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"stopped": stopped})
}

// POST /api/chains/:id/relaunch
func (h *ChainHandler) Relaunch(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	var req struct {
		Session string `json:"session"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	chain, err := h.chains.Get(dbcOf(c), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	report, err := h.sip.RelaunchErrors(dbcOf(c), chain, req.Session)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"relaunch": report})
}

// POST /api/chains/:id/files/retry
func (h *ChainHandler) RetryFiles(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	if _, err := h.chains.Get(dbcOf(c), id); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	n, err := h.files.Retry(dbcOf(c), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"retried": n})
}

// GET /api/chains/:id/sessions
func (h *ChainHandler) Sessions(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	sessions, err := h.chains.SessionSummaries(dbcOf(c), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": sessions})
}

// DELETE /api/chains/:id/sessions/:session
func (h *ChainHandler) DeleteSession(c *gin.Context) {
	id, ok := chainID(c)
	if !ok {
		return
	}
	n, err := h.chains.DeleteSessionProducts(dbcOf(c), id, c.Param("session"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": n})
}
