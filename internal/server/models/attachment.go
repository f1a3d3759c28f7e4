package models

import "time"

// Attachment is one row of the attachments table, restricted to the columns
// the storage engine reads or writes.
type Attachment struct {
	ID         int64
	Name       string
	ResModel   string
	ResID      *int64
	ResField   *string
	StoreFname string
	Checksum   string
	FileSize   int64
	Mimetype   string
	IsExternal bool
	IsUploaded bool
	CreatedAt  time.Time
}

// Parameter is one key-value row of config_parameters.
type Parameter struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
