package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobhearted-crawler/internal/model"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

// tableSpec maps one record kind onto its table. columns[0] is always id.
type tableSpec struct {
	table   string
	columns []string
	values  func(record.Record) []any
	scan    func(pgx.Rows) (record.Record, error)
}

func (t tableSpec) hasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

func (t tableSpec) selectList(alias string) string {
	if alias == "" {
		return strings.Join(t.columns, ", ")
	}
	cols := make([]string, len(t.columns))
	for i, c := range t.columns {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func (t tableSpec) upsertSQL() string {
	placeholders := make([]string, len(t.columns))
	updates := make([]string, 0, len(t.columns)-1)
	for i, c := range t.columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if i > 0 {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		t.table, t.selectList(""), strings.Join(placeholders, ", "), strings.Join(updates, ", "))
}

var vacancyColumns = []string{
	model.FieldID,
	model.FieldSourceURLID,
	model.FieldHash,
	model.FieldVersion,
	model.FieldActive,
	model.FieldTitle,
	model.FieldEmployer,
	model.FieldEmploymentType,
	model.FieldLocation,
	model.FieldDescription,
	model.FieldScrapedAt,
}

var tables = map[record.Kind]tableSpec{
	record.KindVacancy: {
		table:   "vacancies",
		columns: vacancyColumns,
		values: func(r record.Record) []any {
			v := r.(*model.Vacancy)
			return []any{v.ID, v.SourceURLID, v.Hash, v.Version, v.Active, v.Title,
				v.Employer, v.EmploymentType, v.Location, v.Description, v.ScrapedAt}
		},
		scan: func(rows pgx.Rows) (record.Record, error) {
			var v model.Vacancy
			err := rows.Scan(&v.ID, &v.SourceURLID, &v.Hash, &v.Version, &v.Active, &v.Title,
				&v.Employer, &v.EmploymentType, &v.Location, &v.Description, &v.ScrapedAt)
			return &v, err
		},
	},
	record.KindBlacklistEntry: {
		table:   "blacklist_entries",
		columns: []string{model.FieldID, model.FieldCrawlerID, model.FieldWord},
		values: func(r record.Record) []any {
			b := r.(*model.BlacklistEntry)
			return []any{b.ID, b.CrawlerID, b.Word}
		},
		scan: func(rows pgx.Rows) (record.Record, error) {
			var b model.BlacklistEntry
			err := rows.Scan(&b.ID, &b.CrawlerID, &b.Word)
			return &b, err
		},
	},
	record.KindSkill:     tagTable("skills", record.KindSkill),
	record.KindEducation: tagTable("educations", record.KindEducation),
	record.KindLocation:  tagTable("locations", record.KindLocation),
}

func tagTable(table string, kind record.Kind) tableSpec {
	return tableSpec{
		table:   table,
		columns: []string{model.FieldID, model.FieldName},
		values: func(r record.Record) []any {
			return []any{r.RecordID(), model.TagName(r)}
		},
		scan: func(rows pgx.Rows) (record.Record, error) {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				return nil, err
			}
			return model.NewTag(kind, id, name)
		},
	}
}

// joinSpec names the join table linking vacancies to one tag kind.
type joinSpec struct {
	table      string
	ownerCol   string
	relatedCol string
}

var joins = map[record.Kind]joinSpec{
	record.KindSkill:     {table: "vacancy_skills", ownerCol: "vacancy_id", relatedCol: "skill_id"},
	record.KindEducation: {table: "vacancy_educations", ownerCol: "vacancy_id", relatedCol: "education_id"},
	record.KindLocation:  {table: "vacancy_locations", ownerCol: "vacancy_id", relatedCol: "location_id"},
}

func lookupJoin(owner record.Kind, related record.Kind) (joinSpec, error) {
	j, ok := joins[related]
	if owner != record.KindVacancy || !ok {
		return joinSpec{}, fmt.Errorf("%w: no association %s -> %s", record.ErrUnsupportedKind, owner, related)
	}
	return j, nil
}
