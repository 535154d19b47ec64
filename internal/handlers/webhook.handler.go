package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/pkg/errors"

	"github.com/sahelsms/orange-gateway/internal/model"
	"github.com/sahelsms/orange-gateway/internal/services"
	xhttp "github.com/sahelsms/orange-gateway/pkg/http"
)

type InboundService interface {
	ProcessInbound(ctx context.Context, body []byte) (*model.Message, error)
}

// WebhookHandler terminates the carrier's push notifications. Both webhook
// paths accept both notification shapes; routing happens on the body.
type WebhookHandler struct {
	svc InboundService
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/smsmo", h.Receive)
	e.POST("/webhooks/smsdr", h.Receive)
}

func NewWebhookHandler(svc InboundService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

type webhookResponse struct {
	UUID string `json:"uuid"`
}

// Receive processes one carrier notification. A hook failure after a durable
// ledger write answers 301 with the uuid, matching the carrier-side contract
// the platform has always exposed; malformed payloads and unknown delivery
// references answer 400.
func (h *WebhookHandler) Receive(ctx *xhttp.RequestCtx) {
	msg, err := h.svc.ProcessInbound(ctx, ctx.PostBody())
	if err != nil {
		var hookErr *services.HookError
		if errors.As(err, &hookErr) && msg != nil {
			writeJSON(ctx, xhttp.StatusMovedPermanently, webhookResponse{UUID: msg.ID})
			return
		}
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, webhookResponse{UUID: msg.ID})
}
