package auth

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/config"
)

func TestVerifyIdentity(t *testing.T) {
	config.SetRuntime(nil)
	assert.Equal(t, ErrIdentityMissing, VerifyIdentity("", ""))
	assert.Nil(t, VerifyIdentity("alice", ""), "unsigned identities are trusted without keys")

	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"old": {}, "new": {}}})
	t.Cleanup(func() { config.SetRuntime(nil) })

	assert.Equal(t, ErrSignatureMissing, VerifyIdentity("alice", ""))
	assert.Equal(t, ErrSignatureInvalid, VerifyIdentity("alice", CreateHMACSignature("bob", "new")))
	assert.Nil(t, VerifyIdentity("alice", CreateHMACSignature("alice", "old")))
	assert.Nil(t, VerifyIdentity("alice", CreateHMACSignature("alice", "new")))
}

func TestOriginAllowed(t *testing.T) {
	assert.False(t, OriginAllowed("https://a.example", nil))
	assert.True(t, OriginAllowed("https://A.example", []string{"https://a.example"}))
	assert.True(t, OriginAllowed("https://b.example", []string{"*"}))
	assert.False(t, OriginAllowed("https://b.example", []string{"https://a.example"}))
}

func TestLimiterPool(t *testing.T) {
	p := newLimiterPool(1, 2)
	defer p.Shutdown()
	assert.True(t, p.Allow("k"))
	assert.True(t, p.Allow("k"))
	assert.False(t, p.Allow("k"))
	assert.True(t, p.Allow("other"))

	off := newLimiterPool(0, 0)
	for i := 0; i < 10; i++ {
		assert.True(t, off.Allow("k"))
	}
}

func TestMiddlewareRejectsUnsigned(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"k": {}}})
	t.Cleanup(func() { config.SetRuntime(nil) })

	mw := NewMiddleware(SecConfig{})
	defer mw.Shutdown()
	var seen string
	h := mw.Wrap(func(ctx *fasthttp.RequestCtx) { seen = UserFromContext(ctx) })

	before := testutil.ToFloat64(requestsRejected.WithLabelValues("unauthorized"))
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/connections/pending")
	ctx.Request.Header.Set("X-User-ID", "alice")
	h(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Empty(t, seen)
	assert.Equal(t, before+1, testutil.ToFloat64(requestsRejected.WithLabelValues("unauthorized")))

	ctx = &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/v1/connections/pending")
	ctx.Request.Header.Set("X-User-ID", "alice")
	ctx.Request.Header.Set("X-User-Signature", CreateHMACSignature("alice", "k"))
	h(ctx)
	assert.Equal(t, "alice", seen)
}
