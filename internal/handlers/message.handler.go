package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"

	"github.com/sahelsms/orange-gateway/internal/model"
	xhttp "github.com/sahelsms/orange-gateway/pkg/http"
)

type MessageService interface {
	Send(ctx context.Context, req model.SendRequest) (*model.Message, error)
	Reply(ctx context.Context, incomingID, content, senderName string) (*model.Message, error)
	Get(ctx context.Context, id string) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
}

type MessageHandler struct {
	svc MessageService
}

func RegisterMessageRoutes(e *router.Group, h *MessageHandler) {
	e.POST("/messages", h.SendMessage)
	e.POST("/messages/{id}/reply", h.ReplyMessage)
	e.GET("/messages", h.ListMessages)
	e.GET("/messages/{id}", h.GetMessage)
}

func NewMessageHandler(svc MessageService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type sendMessageRequest struct {
	Destination string `json:"destination"`
	Content     string `json:"content"`
	SenderName  string `json:"sender_name"`
}

type replyMessageRequest struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
}

type sendFailureResponse struct {
	Error   string         `json:"error"`
	Message *model.Message `json:"message,omitempty"`
}

type listResponse struct {
	Items []*model.Message `json:"items"`
	Total int64            `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *MessageHandler) SendMessage(ctx *xhttp.RequestCtx) {
	var req sendMessageRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	msg, err := h.svc.Send(ctx, model.SendRequest{
		Destination: req.Destination,
		Content:     req.Content,
		SenderName:  req.SenderName,
	})
	if err != nil {
		// A non-nil message means the submission was recorded and settled
		// failed_to_send before the carrier error surfaced.
		if msg != nil {
			writeJSON(ctx, 502, sendFailureResponse{Error: err.Error(), Message: msg})
			return
		}
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, msg)
}

func (h *MessageHandler) ReplyMessage(ctx *xhttp.RequestCtx) {
	id, ok := ctx.UserValue("id").(string)
	if !ok || id == "" {
		writeError(ctx, 400, "message id is required")
		return
	}
	var req replyMessageRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	msg, err := h.svc.Reply(ctx, id, req.Content, req.SenderName)
	if err != nil {
		if msg != nil {
			writeJSON(ctx, 502, sendFailureResponse{Error: err.Error(), Message: msg})
			return
		}
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, msg)
}

func (h *MessageHandler) GetMessage(ctx *xhttp.RequestCtx) {
	id, ok := ctx.UserValue("id").(string)
	if !ok || id == "" {
		writeError(ctx, 400, "message id is required")
		return
	}
	msg, err := h.svc.Get(ctx, id)
	if err != nil {
		writeError(ctx, 404, err.Error())
		return
	}
	writeJSON(ctx, 200, msg)
}

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx) {
	var f model.MessageFilter

	if v := query(ctx, "direction"); v != "" {
		d := model.Direction(v)
		f.Direction = &d
	}
	if v := query(ctx, "identity"); v != "" {
		f.Identity = &v
	}
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.Status(parts[i]))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listResponse{Items: items, Total: total})
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
