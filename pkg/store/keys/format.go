package keys

const (
	// notation dictionary for key formats:
	// m    = message
	// c    = connection
	// u    = user
	// idx  = index
	// pair = normalized unordered user pair
	// d    = declined connection (retention)
	// All keys are lowercase; segments are separated by ":"

	// primary storage key formats
	MessageKey    = "m:%s" // m:<message_id>
	ConnectionKey = "c:%s" // c:<connection_id>
	UserKey       = "u:%s" // u:<user_id>

	// sender → recipient conversation index, ordered by creation
	ConversationKey    = "idx:c:%s:%s:%020d:%s" // idx:c:<sender>:<recipient>:<created_ns>:<message_id>
	ConversationPrefix = "idx:c:%s:%s:"         // idx:c:<sender>:<recipient>:

	// active connection per unordered pair; value is the connection id
	PairKey = "idx:pair:%s:%s" // idx:pair:<min_user>:<max_user>

	// user → connection membership
	UserConnectionKey    = "idx:u:%s:c:%s" // idx:u:<user_id>:c:<connection_id>
	UserConnectionPrefix = "idx:u:%s:c:"   // idx:u:<user_id>:c:

	// declined connections ordered by decline time
	DeclinedKey    = "idx:d:%020d:%s" // idx:d:<declined_ns>:<connection_id>
	DeclinedPrefix = "idx:d:"

	// padding width (fixed for lexicographic ordering)
	TSPadWidth = 20

	// lock namespaces, never persisted
	ConversationLock = "lock:conv:%s:%s"
	PairLock         = "lock:pair:%s:%s"
	UserLock         = "lock:u:%s"

	MaxIDLength = 128
)
