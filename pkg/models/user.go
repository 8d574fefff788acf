package models

// User holds the fields this service owns. Profile data lives elsewhere.
type User struct {
	ID               string `json:"_id"`
	Verified         bool   `json:"verified"`
	TotalConnections int64  `json:"totalConnections"`
}
