package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/valyala/fasthttp"

	"github.com/iam-i-j-k/backend/pkg/config"
)

// creates an HMAC signature for a user ID
func CreateHMACSignature(userID, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifies a user ID against its HMAC signature using available signing keys
func VerifyHMACSignature(userID, signature string) bool {
	for k := range config.GetSigningKeys() {
		expected := CreateHMACSignature(userID, k)
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return true
		}
	}
	return false
}

// SigningEnabled reports whether identities must carry a signature. Without
// signing keys the claimed user id is trusted.
func SigningEnabled() bool {
	return len(config.GetSigningKeys()) > 0
}

// IdentityError is an identity check failure with its HTTP status.
type IdentityError struct {
	Message string
	Code    int
}

func (e *IdentityError) Error() string {
	return e.Message
}

var (
	ErrIdentityMissing  = &IdentityError{"missing user identity", fasthttp.StatusUnauthorized}
	ErrSignatureMissing = &IdentityError{"missing signature", fasthttp.StatusUnauthorized}
	ErrSignatureInvalid = &IdentityError{"invalid signature", fasthttp.StatusUnauthorized}
	ErrIdentityTooLong  = &IdentityError{"user id too long", fasthttp.StatusBadRequest}
)

// VerifyIdentity checks a claimed user id and its signature.
func VerifyIdentity(userID, signature string) *IdentityError {
	if userID == "" {
		return ErrIdentityMissing
	}
	if len(userID) > 128 {
		return ErrIdentityTooLong
	}
	if !SigningEnabled() {
		return nil
	}
	if signature == "" {
		return ErrSignatureMissing
	}
	if !VerifyHMACSignature(userID, signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// UserFromContext returns the verified user id set by the middleware.
func UserFromContext(ctx *fasthttp.RequestCtx) string {
	if v, ok := ctx.UserValue(userValueKey).(string); ok {
		return v
	}
	return ""
}

const userValueKey = "auth.user"
