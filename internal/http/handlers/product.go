package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/regardsoss/dataprovider/internal/http/response"
	"github.com/regardsoss/dataprovider/internal/modules/acquisition/products"
	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
)

type ProductHandler struct {
	products *products.Aggregator
}

func NewProductHandler(agg *products.Aggregator) *ProductHandler {
	return &ProductHandler{products: agg}
}

// GET /api/products/:name
func (h *ProductHandler) GetProduct(c *gin.Context) {
	view, err := h.products.Get(dbctx.Context{Ctx: c.Request.Context()}, c.Param("name"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"product": view})
}
