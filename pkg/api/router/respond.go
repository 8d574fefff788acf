package router

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/apperr"
	"github.com/iam-i-j-k/backend/pkg/state/logger"
)

// WriteJSON writes a JSON response.
func WriteJSON(ctx *fasthttp.RequestCtx, data interface{}) error {
	ctx.Response.Header.Set("Content-Type", "application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONStatus writes a JSON response with status.
func WriteJSONStatus(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	ctx.SetStatusCode(status)
	_ = WriteJSON(ctx, data)
}

// WriteJSONError writes a JSON error response.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}

// WriteError maps err through the error taxonomy. Untyped errors are logged
// and answered with a generic 500.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	ae := apperr.As(err)
	if ae.Type == apperr.TypeInternal {
		logger.Error("request_failed", "path", string(ctx.Path()), "method", string(ctx.Method()), "error", err)
	}
	ctx.SetStatusCode(ae.Code)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": ae.Message, "type": string(ae.Type)})
}
