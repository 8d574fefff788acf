package routes

import (
	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/api/auth"
	"github.com/iam-i-j-k/backend/pkg/api/router"
)

// ChatHistory serves GET /v1/chats/{userId}/messages.
func (h *Handlers) ChatHistory(ctx *fasthttp.RequestCtx) {
	other, ok := router.ExtractParamOrFail(ctx, "userId", "missing userId")
	if !ok {
		return
	}
	msgs, err := h.Chat.History(ctx, auth.UserFromContext(ctx), other)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]interface{}{"messages": msgs})
}

// ClearChat serves DELETE /v1/chats/{userId}.
func (h *Handlers) ClearChat(ctx *fasthttp.RequestCtx) {
	other, ok := router.ExtractParamOrFail(ctx, "userId", "missing userId")
	if !ok {
		return
	}
	n, err := h.Chat.ClearChat(ctx, auth.UserFromContext(ctx), other)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]interface{}{"deleted": n})
}
