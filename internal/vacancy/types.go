package vacancy

import (
	"context"
	"time"
)

// Hasher fingerprints a description.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator issues record ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies scrape timestamps.
type Clock interface {
	Now() time.Time
}

// Publisher emits change notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fields are the values extracted from one vacancy page.
type Fields struct {
	Title          string
	Employer       string
	EmploymentType string
	Location       string
	Description    string
	Skills         []string
	Educations     []string
	Locations      []string
}

// Result classifies what Submit did.
type Result int

// Submit results.
const (
	Skipped Result = iota
	Inserted
	Updated
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "skipped"
	}
}

// ChangeNotice is published after a record is inserted, updated or retired.
type ChangeNotice struct {
	SourceURLID int64     `json:"source_url_id"`
	VacancyID   string    `json:"vacancy_id"`
	Version     int       `json:"version"`
	Hash        string    `json:"hash"`
	Change      string    `json:"change"`
	At          time.Time `json:"at"`
}
