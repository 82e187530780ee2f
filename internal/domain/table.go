package domain

import "time"

// TableRecord catalogs a table physically created inside a team schema.
// (SchemaName, TableName) is unique across the whole catalog, mirroring
// schema-qualified relation names in Postgres.
type TableRecord struct {
	ID         int64
	TeamID     int64
	TableName  string
	SchemaName string
	CreatedBy  *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableDeployment describes one physical table creation request. Definition
// is a trusted column list supplied by an authorized principal; it is never
// built from untrusted input.
type TableDeployment struct {
	TeamID     int64
	SchemaName string
	TableName  string
	Definition string
	TeamRole   string
	CreatedBy  *int64
}
