package routes

import (
	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/api/auth"
	"github.com/iam-i-j-k/backend/pkg/api/router"
)

type connectionRequestBody struct {
	UserID string `json:"userId"`
}

// RequestConnection serves POST /v1/connections {userId}.
func (h *Handlers) RequestConnection(ctx *fasthttp.RequestCtx) {
	var body connectionRequestBody
	if !router.DecodeBodyOrFail(ctx, &body) {
		return
	}
	c, err := h.Conns.Request(ctx, auth.UserFromContext(ctx), body.UserID)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSONStatus(ctx, fasthttp.StatusCreated, c)
}

// PendingConnections serves GET /v1/connections/pending.
func (h *Handlers) PendingConnections(ctx *fasthttp.RequestCtx) {
	list, err := h.Conns.Pending(ctx, auth.UserFromContext(ctx))
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]interface{}{"connections": list})
}

// MatchedConnections serves GET /v1/connections/matches.
func (h *Handlers) MatchedConnections(ctx *fasthttp.RequestCtx) {
	list, err := h.Conns.Matches(ctx, auth.UserFromContext(ctx))
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]interface{}{"connections": list})
}

// ConnectionStatus serves GET /v1/connections/status/{userId}.
func (h *Handlers) ConnectionStatus(ctx *fasthttp.RequestCtx) {
	other, ok := router.ExtractParamOrFail(ctx, "userId", "missing userId")
	if !ok {
		return
	}
	st, err := h.Conns.Status(ctx, auth.UserFromContext(ctx), other)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]string{"status": string(st)})
}

// AcceptConnection serves POST /v1/connections/{id}/accept.
func (h *Handlers) AcceptConnection(ctx *fasthttp.RequestCtx) {
	id, ok := router.ExtractParamOrFail(ctx, "id", "missing connection id")
	if !ok {
		return
	}
	c, err := h.Conns.Accept(ctx, auth.UserFromContext(ctx), id)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, c)
}

// DeclineConnection serves POST /v1/connections/{id}/decline.
func (h *Handlers) DeclineConnection(ctx *fasthttp.RequestCtx) {
	id, ok := router.ExtractParamOrFail(ctx, "id", "missing connection id")
	if !ok {
		return
	}
	c, err := h.Conns.Decline(ctx, auth.UserFromContext(ctx), id)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, c)
}

// RemoveConnection serves DELETE /v1/connections/{id}.
func (h *Handlers) RemoveConnection(ctx *fasthttp.RequestCtx) {
	id, ok := router.ExtractParamOrFail(ctx, "id", "missing connection id")
	if !ok {
		return
	}
	if _, err := h.Conns.Remove(ctx, auth.UserFromContext(ctx), id); err != nil {
		router.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
