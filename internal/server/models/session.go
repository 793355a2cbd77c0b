package models

import "time"

// Session is the single live session of a user. The row is keyed by
// UserID; Token and LastUsed are ordinary mutable fields rotated in place
// on every authenticated request.
type Session struct {
	UserID   string
	Token    string
	LastUsed time.Time
}
