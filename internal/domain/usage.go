package domain

// TeamUsage aggregates catalog and storage statistics for one team.
type TeamUsage struct {
	TeamID     int64
	TeamName   string
	Members    int
	Tables     int
	TotalBytes int64
}

// TableSize reports the on-disk footprint of one deployed table.
type TableSize struct {
	TeamName   string
	SchemaName string
	TableName  string
	SizeBytes  int64
}
