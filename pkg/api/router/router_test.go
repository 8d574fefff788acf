package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func serve(r *Router, method, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	r.Handler(ctx)
	return ctx
}

func TestRouterParamsAndMethods(t *testing.T) {
	r := New()
	var got string
	r.GET("/v1/chats/{userId}/messages", func(ctx *fasthttp.RequestCtx) {
		got = ctx.UserValue("userId").(string)
	})
	r.DELETE("/v1/chats/{userId}", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	})
	r.GET("/", func(ctx *fasthttp.RequestCtx) { got = "root" })

	ctx := serve(r, "GET", "/v1/chats/bob/messages")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "bob", got)

	serve(r, "GET", "/")
	assert.Equal(t, "root", got)

	ctx = serve(r, "POST", "/v1/chats/bob")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "DELETE", string(ctx.Response.Header.Peek("Allow")))

	ctx = serve(r, "GET", "/v1/nothing")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestNotFoundHandler(t *testing.T) {
	r := New()
	r.NotFound(func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusTeapot) })
	ctx := serve(r, "GET", "/missing")
	assert.Equal(t, fasthttp.StatusTeapot, ctx.Response.StatusCode())
}
