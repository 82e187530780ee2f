package domain

import "time"

// User is a catalog account paired one-to-one with a database login role.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	IsAdmin      bool
	CreatedAt    time.Time
}
