package model

import (
	"fmt"

	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

// Field names shared by every store implementation.
const (
	FieldID             = "id"
	FieldSourceURLID    = "source_url_id"
	FieldHash           = "hash"
	FieldVersion        = "version"
	FieldActive         = "active"
	FieldTitle          = "title"
	FieldEmployer       = "employer"
	FieldEmploymentType = "employment_type"
	FieldLocation       = "location"
	FieldDescription    = "description"
	FieldScrapedAt      = "scraped_at"
	FieldCrawlerID      = "crawler_id"
	FieldWord           = "word"
	FieldName           = "name"
)

// New returns an empty record of the given kind, ready to be decoded into.
func New(kind record.Kind) (record.Record, error) {
	switch kind {
	case record.KindVacancy:
		return &Vacancy{}, nil
	case record.KindBlacklistEntry:
		return &BlacklistEntry{}, nil
	case record.KindSkill:
		return &Skill{}, nil
	case record.KindEducation:
		return &Education{}, nil
	case record.KindLocation:
		return &Location{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", record.ErrUnsupportedKind, kind)
	}
}

// NewTag returns a named tag record of a tag kind.
func NewTag(kind record.Kind, id, name string) (record.Record, error) {
	switch kind {
	case record.KindSkill:
		return &Skill{ID: id, Name: name}, nil
	case record.KindEducation:
		return &Education{ID: id, Name: name}, nil
	case record.KindLocation:
		return &Location{ID: id, Name: name}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a tag kind", record.ErrUnsupportedKind, kind)
	}
}

// TagKinds lists the kinds associated with a vacancy.
func TagKinds() []record.Kind {
	return []record.Kind{record.KindSkill, record.KindEducation, record.KindLocation}
}
