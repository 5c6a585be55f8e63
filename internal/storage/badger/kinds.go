package badger

import (
	"fmt"

	"github.com/timshannon/badgerhold/v4"

	"github.com/JakeFAU/jobhearted-crawler/internal/model"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

type kindOps struct {
	find   func(*badgerhold.Store, *badgerhold.Query) ([]record.Record, error)
	get    func(*badgerhold.Store, string) error
	fields map[string]string
}

var tagFields = map[string]string{model.FieldID: "ID", model.FieldName: "Name"}

var kinds = map[record.Kind]kindOps{
	record.KindVacancy: {
		find: find[model.Vacancy, *model.Vacancy],
		get:  get[model.Vacancy],
		fields: map[string]string{
			model.FieldID:             "ID",
			model.FieldSourceURLID:    "SourceURLID",
			model.FieldHash:           "Hash",
			model.FieldVersion:        "Version",
			model.FieldActive:         "Active",
			model.FieldTitle:          "Title",
			model.FieldEmployer:       "Employer",
			model.FieldEmploymentType: "EmploymentType",
			model.FieldLocation:       "Location",
			model.FieldDescription:    "Description",
			model.FieldScrapedAt:      "ScrapedAt",
		},
	},
	record.KindBlacklistEntry: {
		find: find[model.BlacklistEntry, *model.BlacklistEntry],
		get:  get[model.BlacklistEntry],
		fields: map[string]string{
			model.FieldID:        "ID",
			model.FieldCrawlerID: "CrawlerID",
			model.FieldWord:      "Word",
		},
	},
	record.KindSkill:     {find: find[model.Skill, *model.Skill], get: get[model.Skill], fields: tagFields},
	record.KindEducation: {find: find[model.Education, *model.Education], get: get[model.Education], fields: tagFields},
	record.KindLocation:  {find: find[model.Location, *model.Location], get: get[model.Location], fields: tagFields},
}

func lookup(kind record.Kind) (kindOps, error) {
	ops, ok := kinds[kind]
	if !ok {
		return kindOps{}, fmt.Errorf("%w: %s", record.ErrUnsupportedKind, kind)
	}
	return ops, nil
}

// find runs q against the bucket of T.
func find[T any, P interface {
	*T
	record.Record
}](s *badgerhold.Store, q *badgerhold.Query) ([]record.Record, error) {
	var rows []T
	if err := s.Find(&rows, q); err != nil {
		return nil, err
	}
	out := make([]record.Record, len(rows))
	for i := range rows {
		out[i] = P(&rows[i])
	}
	return out, nil
}

func get[T any](s *badgerhold.Store, id string) error {
	var v T
	return s.Get(id, &v)
}
