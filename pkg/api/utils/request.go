// Package utils reads request fields off a fasthttp context.
package utils

import (
	"strings"

	"github.com/valyala/fasthttp"
)

const (
	headerUserID        = "X-User-ID"
	headerUserSignature = "X-User-Signature"
)

// GetHeader returns the trimmed header value.
func GetHeader(ctx *fasthttp.RequestCtx, key string) string {
	return strings.TrimSpace(string(ctx.Request.Header.Peek(key)))
}

// GetQuery returns the trimmed query argument.
func GetQuery(ctx *fasthttp.RequestCtx, key string) string {
	return strings.TrimSpace(string(ctx.QueryArgs().Peek(key)))
}

// GetPathParam returns a {param} captured by the router, or "".
func GetPathParam(ctx *fasthttp.RequestCtx, param string) string {
	s, _ := ctx.UserValue(param).(string)
	return s
}

func GetPath(ctx *fasthttp.RequestCtx) string {
	return string(ctx.Path())
}

// GetUserID returns the claimed user id. It is unverified until the auth
// middleware has checked its signature.
func GetUserID(ctx *fasthttp.RequestCtx) string {
	return GetHeader(ctx, headerUserID)
}

// GetUserSignature returns the hex HMAC of the claimed user id.
func GetUserSignature(ctx *fasthttp.RequestCtx) string {
	return GetHeader(ctx, headerUserSignature)
}
