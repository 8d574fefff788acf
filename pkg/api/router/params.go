package router

import (
	"bytes"
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/api/utils"
)

// ExtractParamOrFail returns a path parameter or writes 400.
func ExtractParamOrFail(ctx *fasthttp.RequestCtx, param string, missingMsg string) (string, bool) {
	val := utils.GetPathParam(ctx, param)
	if val == "" {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, missingMsg)
		return "", false
	}
	return val, true
}

// DecodeBodyOrFail strictly decodes the request body into v or writes 400.
func DecodeBodyOrFail(ctx *fasthttp.RequestCtx, v interface{}) bool {
	body := ctx.PostBody()
	if len(bytes.TrimSpace(body)) == 0 {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "request body required")
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
