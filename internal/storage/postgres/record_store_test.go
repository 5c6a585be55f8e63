package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhearted-crawler/internal/model"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

func newMockStore(t *testing.T) (*RecordStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestSaveVacancyUpserts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	scraped := time.Unix(1700000000, 0).UTC()
	v := &model.Vacancy{
		ID:          "v1",
		SourceURLID: 42,
		Hash:        "abc",
		Version:     2,
		Active:      true,
		Title:       "Go developer",
		Description: "build things",
		ScrapedAt:   scraped,
	}

	mock.ExpectExec(`INSERT INTO vacancies \(id, source_url_id, .*\) VALUES \(\$1, .*\$11\) ON CONFLICT \(id\) DO UPDATE SET source_url_id = EXCLUDED.source_url_id`).
		WithArgs("v1", int64(42), "abc", 2, true, "Go developer", "", "", "", "build things", scraped).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Save(context.Background(), v))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByEqualsScansRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	scraped := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows(vacancyColumns).
		AddRow("v1", int64(42), "abc", 1, false, "t", "e", "full-time", "Utrecht", "d", scraped).
		AddRow("v2", int64(42), "def", 2, true, "t", "e", "full-time", "Utrecht", "d2", scraped)
	mock.ExpectQuery(`SELECT id, source_url_id, .* FROM vacancies WHERE source_url_id = \$1 ORDER BY id`).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	got, err := s.FindByEquals(context.Background(), record.KindVacancy, model.FieldSourceURLID, int64(42))
	require.NoError(t, err)
	require.Len(t, got, 2)
	second := got[1].(*model.Vacancy)
	require.Equal(t, 2, second.Version)
	require.True(t, second.Active)
	require.Equal(t, "def", second.Hash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByEqualsRejectsUnknownColumn(t *testing.T) {
	t.Parallel()

	s, _ := newMockStore(t)
	_, err := s.FindByEquals(context.Background(), record.KindVacancy, "id; DROP TABLE vacancies", 1)
	require.ErrorIs(t, err, record.ErrUnknownField)

	_, err = s.FindByEquals(context.Background(), record.Kind("salary"), "id", 1)
	require.ErrorIs(t, err, record.ErrUnsupportedKind)
}

func TestQueryFailureIsDataUnavailable(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM blacklist_entries WHERE crawler_id = \$1`).
		WithArgs("w1").
		WillReturnError(errors.New("connection refused"))

	_, err := s.FindByEquals(context.Background(), record.KindBlacklistEntry, model.FieldCrawlerID, "w1")
	require.ErrorIs(t, err, record.ErrDataUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssociationStatements(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	v := &model.Vacancy{ID: "v1"}
	skill := &model.Skill{ID: "s1", Name: "Go"}

	mock.ExpectExec(`INSERT INTO vacancy_skills \(vacancy_id, skill_id\) VALUES \(\$1, \$2\) ON CONFLICT DO NOTHING`).
		WithArgs("v1", "s1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT t.id, t.name FROM skills t JOIN vacancy_skills j ON j.skill_id = t.id WHERE j.vacancy_id = \$1`).
		WithArgs("v1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow("s1", "Go"))
	mock.ExpectExec(`DELETE FROM vacancy_skills WHERE vacancy_id = \$1 AND skill_id = \$2`).
		WithArgs("v1", "s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.AddAssociation(ctx, v, skill))
	tags, err := s.Associated(ctx, v, record.KindSkill)
	require.NoError(t, err)
	require.Equal(t, []record.Record{&model.Skill{ID: "s1", Name: "Go"}}, tags)
	require.NoError(t, s.RemoveAssociation(ctx, v, skill))
	require.NoError(t, mock.ExpectationsWereMet())

	err = s.AddAssociation(ctx, skill, v)
	require.ErrorIs(t, err, record.ErrUnsupportedKind)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS vacancies`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, EnsureSchema(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStoreWithPool(nil)
	require.Error(t, err)
}
