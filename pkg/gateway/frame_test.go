package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iam-i-j-k/backend/pkg/apperr"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"typing","data":{"to":"b","from":"a"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventTyping, f.Event)

	for _, raw := range []string{``, `[]`, `{"data":{}}`, `{"event":"x"} {"event":"y"}`, `{"event":"x","extra":true}`, `{"event":"dance","data":{}}`} {
		_, err := ParseFrame([]byte(raw))
		assert.ErrorIs(t, err, apperr.ErrValidation, raw)
	}
}

func TestParseJoin(t *testing.T) {
	id, err := parseJoin(json.RawMessage(`"alice"`))
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	id, err = parseJoin(json.RawMessage(`{"userId":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, "bob", id)

	for _, raw := range []string{`""`, `{}`, `{"userId":"a","room":"x"}`, `42`, ``} {
		_, err := parseJoin(json.RawMessage(raw))
		assert.ErrorIs(t, err, apperr.ErrValidation, raw)
	}
}

func TestSendMessagePayloadIsStrict(t *testing.T) {
	var p sendMessagePayload
	err := decodePayload(json.RawMessage(`{"sender":"a","recipient":"b","file":{"url":"u","size":1,"bogus":1}}`), &p)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	p = sendMessagePayload{}
	err = decodePayload(json.RawMessage(`{"sender":"a","recipient":"b","file":{"url":"u","originalName":"n","mimetype":"text/plain","size":1}}`), &p)
	require.NoError(t, err)
	require.NotNil(t, p.File)
	assert.Equal(t, "text/plain", p.File.MimeType)

	p = sendMessagePayload{}
	assert.ErrorIs(t, decodePayload(json.RawMessage(`{"sender":"a"}`), &p), apperr.ErrValidation)
}
