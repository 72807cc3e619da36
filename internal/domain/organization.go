package domain

import "time"

// Organization is the tenant boundary; every project and user belongs to exactly one.
type Organization struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}
