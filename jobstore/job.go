package jobstore

import "time"

// JobRecord is the persisted outcome of one ingestion job
type JobRecord struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Origin         string     `json:"origin"`
	SourceKind     string     `json:"source_kind"`
	Size           int64      `json:"size"`
	Tier           string     `json:"tier,omitempty"`
	Status         string     `json:"status"`
	Stage          string     `json:"stage,omitempty"` // stage of the failure, empty on success
	Message        string     `json:"message,omitempty"`
	Backend        string     `json:"backend,omitempty"`
	OutputPath     string     `json:"output_path,omitempty"`
	CompressedSize int64      `json:"compressed_size"`
	Ratio          float64    `json:"ratio"`
	Compressed     bool       `json:"compressed"`
	Checksum       string     `json:"checksum,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// JobQuery filters List results; zero values match everything
type JobQuery struct {
	Status string
	Limit  int
	Offset int
}
