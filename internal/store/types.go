package store

import "time"

// Turn is one persisted question/answer exchange of a chat session.
type Turn struct {
	SessionID string
	Seq       int
	Question  string
	Answer    string
	CreatedAt time.Time
}
