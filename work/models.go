package work

import "time"

// Work mirrors the works table. A nil ParentID marks a root work. Rows are
// immutable after registration except for the active flag.
type Work struct {
	ID              string
	CreatorID       string
	ParentID        *string
	LicenseFee      int64
	AllowDerivative bool
	MetadataRef     string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Ancestor is one hop in a work's genealogy chain, nearest parent first.
type Ancestor struct {
	WorkID    string
	CreatorID string
	Depth     int
}

// RegisterParams contains the caller-supplied fields for a new work.
type RegisterParams struct {
	CreatorID       string
	ParentID        *string
	LicenseFee      int64
	AllowDerivative bool
	MetadataRef     string
}
