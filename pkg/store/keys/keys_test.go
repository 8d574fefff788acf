package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKeyIsUnordered(t *testing.T) {
	assert.Equal(t, GenPairKey("alice", "bob"), GenPairKey("bob", "alice"))
	assert.Equal(t, "idx:pair:alice:bob", GenPairKey("bob", "alice"))
	assert.Equal(t, GenPairLock("x", "y"), GenPairLock("y", "x"))
}

func TestConversationKeysSortByCreation(t *testing.T) {
	early := GenConversationKey("a", "b", 5, "zzz")
	late := GenConversationKey("a", "b", 40, "aaa")
	assert.Less(t, early, late)
	assert.True(t, strings.HasPrefix(early, GenConversationPrefix("a", "b")))
}

func TestDeclinedKeyRoundTrip(t *testing.T) {
	k := GenDeclinedKey(1234, "conn-1")
	ts, id, err := ParseDeclinedKey(k)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), ts)
	assert.Equal(t, "conn-1", id)

	_, _, err = ParseDeclinedKey("idx:d:12:x")
	assert.Error(t, err)
}

func TestParseUserConnectionKey(t *testing.T) {
	u, c, err := ParseUserConnectionKey(GenUserConnectionKey("u1", "c1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", u)
	assert.Equal(t, "c1", c)
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID(GenID()))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID("a:b"))
	assert.Error(t, ValidateID(strings.Repeat("x", MaxIDLength+1)))
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("idx:d;"), PrefixUpperBound("idx:d:"))
	assert.Equal(t, []byte{0x02}, PrefixUpperBound(string([]byte{0x01, 0xff})))
	assert.Nil(t, PrefixUpperBound(string([]byte{0xff})))
}
