package handlers

import (
	"context"
	"fmt"

	"github.com/fasthttp/router"

	"github.com/sahelsms/orange-gateway/internal/orange"
	xhttp "github.com/sahelsms/orange-gateway/pkg/http"
)

type BalanceService interface {
	Balance(ctx context.Context) (orange.Balance, error)
}

type BalanceHandler struct {
	svc BalanceService
}

func RegisterBalanceRoutes(e *router.Group, h *BalanceHandler) {
	e.GET("/balance", h.GetBalance)
}

func NewBalanceHandler(svc BalanceService) *BalanceHandler {
	return &BalanceHandler{svc: svc}
}

type balanceResponse struct {
	Units     int64  `json:"units"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Feedback  string `json:"feedback"`
}

func (h *BalanceHandler) GetBalance(ctx *xhttp.RequestCtx) {
	b, err := h.svc.Balance(ctx)
	if err != nil {
		writeError(ctx, 502, err.Error())
		return
	}

	resp := balanceResponse{Units: b.Units}
	if b.ExpiresAt != nil {
		resp.ExpiresAt = b.ExpiresAt.Format("2006-01-02")
		resp.Feedback = fmt.Sprintf("%d SMS remaining until %s", b.Units, resp.ExpiresAt)
	} else {
		resp.Feedback = fmt.Sprintf("%d SMS remaining", b.Units)
	}
	writeJSON(ctx, 200, resp)
}
