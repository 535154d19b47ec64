package handlers

import (
	"github.com/fasthttp/router"

	xhttp "github.com/sahelsms/orange-gateway/pkg/http"
)

type HealthHandler struct{}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	ctx.Response.SetBodyString("success")
}
