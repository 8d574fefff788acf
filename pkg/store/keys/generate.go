package keys

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenID returns a new random identifier for messages, connections and sessions.
func GenID() string {
	return uuid.NewString()
}

// ValidateID rejects ids that would break key framing.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("id longer than %d characters", MaxIDLength)
	}
	if strings.ContainsAny(id, ": \t\r\n") {
		return fmt.Errorf("id %q contains a reserved character", id)
	}
	return nil
}

// SortedPair orders two user ids so {a,b} and {b,a} map to one key.
func SortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func GenMessageKey(id string) string    { return fmt.Sprintf(MessageKey, id) }
func GenConnectionKey(id string) string { return fmt.Sprintf(ConnectionKey, id) }
func GenUserKey(id string) string       { return fmt.Sprintf(UserKey, id) }

func GenConversationKey(sender, recipient string, createdNs int64, id string) string {
	return fmt.Sprintf(ConversationKey, sender, recipient, createdNs, id)
}

func GenConversationPrefix(sender, recipient string) string {
	return fmt.Sprintf(ConversationPrefix, sender, recipient)
}

func GenPairKey(a, b string) string {
	lo, hi := SortedPair(a, b)
	return fmt.Sprintf(PairKey, lo, hi)
}

func GenUserConnectionKey(userID, connID string) string {
	return fmt.Sprintf(UserConnectionKey, userID, connID)
}

func GenUserConnectionPrefix(userID string) string {
	return fmt.Sprintf(UserConnectionPrefix, userID)
}

func GenDeclinedKey(declinedNs int64, connID string) string {
	return fmt.Sprintf(DeclinedKey, declinedNs, connID)
}

func GenConversationLock(sender, recipient string) string {
	return fmt.Sprintf(ConversationLock, sender, recipient)
}

func GenPairLock(a, b string) string {
	lo, hi := SortedPair(a, b)
	return fmt.Sprintf(PairLock, lo, hi)
}

func GenUserLock(userID string) string { return fmt.Sprintf(UserLock, userID) }

// PrefixUpperBound returns the smallest key greater than every key with prefix.
func PrefixUpperBound(prefix string) []byte {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
