package model

import "github.com/JakeFAU/jobhearted-crawler/internal/record"

// Skill is a skill tag referenced by active vacancies.
type Skill struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RecordKind implements record.Record.
func (s *Skill) RecordKind() record.Kind { return record.KindSkill }

// RecordID implements record.Record.
func (s *Skill) RecordID() string { return s.ID }

// Value implements record.Record.
func (s *Skill) Value(field string) (any, bool) { return tagValue(s.ID, s.Name, field) }

// CloneRecord returns a copy of the skill.
func (s *Skill) CloneRecord() record.Record {
	cp := *s
	return &cp
}

// Education is an education-level tag. Names compare exactly.
type Education struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RecordKind implements record.Record.
func (e *Education) RecordKind() record.Kind { return record.KindEducation }

// RecordID implements record.Record.
func (e *Education) RecordID() string { return e.ID }

// Value implements record.Record.
func (e *Education) Value(field string) (any, bool) { return tagValue(e.ID, e.Name, field) }

// CloneRecord returns a copy of the education tag.
func (e *Education) CloneRecord() record.Record {
	cp := *e
	return &cp
}

// Location is a processed place tag, distinct from the raw location text
// stored on the vacancy.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RecordKind implements record.Record.
func (l *Location) RecordKind() record.Kind { return record.KindLocation }

// RecordID implements record.Record.
func (l *Location) RecordID() string { return l.ID }

// Value implements record.Record.
func (l *Location) Value(field string) (any, bool) { return tagValue(l.ID, l.Name, field) }

// CloneRecord returns a copy of the location tag.
func (l *Location) CloneRecord() record.Record {
	cp := *l
	return &cp
}

func tagValue(id, name, field string) (any, bool) {
	switch field {
	case FieldID:
		return id, true
	case FieldName:
		return name, true
	default:
		return nil, false
	}
}

// TagName returns the name of a tag record, or "" for other kinds.
func TagName(r record.Record) string {
	v, ok := r.Value(FieldName)
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return name
}
