package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

var (
	// ErrAlreadyInactive is returned when deactivating a superseded record.
	ErrAlreadyInactive = errors.New("vacancy already inactive")
	// ErrInvalidVersion is returned when activating with a version below 1.
	ErrInvalidVersion = errors.New("vacancy version must be >= 1")
)

// Vacancy is one version of a job posting scraped from a source URL.
type Vacancy struct {
	ID             string    `json:"id"`
	SourceURLID    int64     `json:"source_url_id"`
	Hash           string    `json:"hash"`
	Version        int       `json:"version"`
	Active         bool      `json:"active"`
	Title          string    `json:"title"`
	Employer       string    `json:"employer"`
	EmploymentType string    `json:"employment_type"`
	Location       string    `json:"location"`
	Description    string    `json:"description"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// RecordKind implements record.Record.
func (v *Vacancy) RecordKind() record.Kind { return record.KindVacancy }

// RecordID implements record.Record.
func (v *Vacancy) RecordID() string { return v.ID }

// Value implements record.Record.
func (v *Vacancy) Value(field string) (any, bool) {
	switch field {
	case FieldID:
		return v.ID, true
	case FieldSourceURLID:
		return v.SourceURLID, true
	case FieldHash:
		return v.Hash, true
	case FieldVersion:
		return v.Version, true
	case FieldActive:
		return v.Active, true
	case FieldTitle:
		return v.Title, true
	case FieldEmployer:
		return v.Employer, true
	case FieldEmploymentType:
		return v.EmploymentType, true
	case FieldLocation:
		return v.Location, true
	case FieldDescription:
		return v.Description, true
	case FieldScrapedAt:
		return v.ScrapedAt, true
	default:
		return nil, false
	}
}

// CloneRecord returns a copy of the vacancy.
func (v *Vacancy) CloneRecord() record.Record {
	cp := *v
	return &cp
}

// Activate makes this record the current version of its posting.
func (v *Vacancy) Activate(version int) error {
	if version < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidVersion, version)
	}
	v.Version = version
	v.Active = true
	return nil
}

// Deactivate marks the record as superseded or retired. The caller must
// remove its tag associations before persisting it.
func (v *Vacancy) Deactivate() error {
	if !v.Active {
		return fmt.Errorf("%w: %s v%d", ErrAlreadyInactive, v.ID, v.Version)
	}
	v.Active = false
	return nil
}
