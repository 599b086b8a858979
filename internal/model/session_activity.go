package model

import "time"

// SessionActivity notes that a message landed on a session. Consumed
// asynchronously to bump session recency and invalidate cached history.
type SessionActivity struct {
	SessionID uint      `json:"session_id"`
	UserID    uint      `json:"user_id"`
	At        time.Time `json:"at"`
}
