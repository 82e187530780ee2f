package domain

import "time"

// Team owns a dedicated schema inside the shared database.
type Team struct {
	ID         int64
	Name       string
	SchemaName string
	CreatedAt  time.Time
}

// TeamMembership links a user to a team. Membership is the sole
// authorization predicate for non-administrators.
type TeamMembership struct {
	ID        int64
	UserID    int64
	TeamID    int64
	CreatedAt time.Time
}
