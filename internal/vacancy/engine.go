package vacancy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/model"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

// Engine deduplicates and versions vacancies. It holds no per-posting
// state, so one Engine may serve a single worker or several.
type Engine struct {
	store  record.Store
	hasher Hasher
	ids    IDGenerator
	clock  Clock
	logger *zap.Logger

	publisher Publisher
	topic     string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher publishes a ChangeNotice to topic after each change.
func WithPublisher(pub Publisher, topic string) Option {
	return func(e *Engine) {
		e.publisher = pub
		e.topic = topic
	}
}

// NewEngine constructs an Engine.
func NewEngine(store record.Store, hasher Hasher, ids IDGenerator, clock Clock, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		hasher: hasher,
		ids:    ids,
		clock:  clock,
		logger: logger.Named("vacancy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit stores fields scraped from the page identified by sourceURLID.
//
// The latest version known for the source URL decides the outcome: a
// different fingerprint supersedes it (Updated), the same fingerprint is a
// duplicate (Skipped). With no prior version, a fingerprint stored under
// any other source URL marks a cross-posted duplicate (Skipped); otherwise
// version 1 is inserted (Inserted).
func (e *Engine) Submit(ctx context.Context, sourceURLID int64, fields Fields) (Result, error) {
	fingerprint, err := e.hasher.Hash([]byte(fields.Description))
	if err != nil {
		return Skipped, fmt.Errorf("fingerprint description: %w", err)
	}

	found, err := e.latest(ctx, sourceURLID)
	if err != nil {
		return Skipped, err
	}

	if found != nil {
		if found.Hash == fingerprint {
			// An earlier Submit may have failed between saving the record
			// and linking its tags.
			if found.Active {
				if err := e.completeTags(ctx, found, fields); err != nil {
					return Skipped, err
				}
			}
			e.logger.Debug("unchanged vacancy skipped",
				zap.Int64("source_url_id", sourceURLID),
				zap.Int("version", found.Version),
			)
			return Skipped, nil
		}
		if found.Active {
			if err := e.deactivate(ctx, found); err != nil {
				return Skipped, err
			}
		}
		v, err := e.insert(ctx, sourceURLID, fingerprint, found.Version+1, fields)
		if err != nil {
			return Skipped, err
		}
		e.notify(ctx, v, Updated.String())
		return Updated, nil
	}

	dupes, err := e.store.FindByEquals(ctx, record.KindVacancy, model.FieldHash, fingerprint)
	if err != nil {
		return Skipped, record.Unavailable("find vacancy by hash", err)
	}
	if len(dupes) > 0 {
		e.logger.Debug("cross-posted vacancy skipped",
			zap.Int64("source_url_id", sourceURLID),
			zap.String("duplicate_of", dupes[0].RecordID()),
		)
		return Skipped, nil
	}

	v, err := e.insert(ctx, sourceURLID, fingerprint, 1, fields)
	if err != nil {
		return Skipped, err
	}
	e.notify(ctx, v, Inserted.String())
	return Inserted, nil
}

// Retire deactivates the active record for a posting that disappeared. It
// reports false when nothing was active.
func (e *Engine) Retire(ctx context.Context, sourceURLID int64) (bool, error) {
	recs, err := e.store.FindByEquals(ctx, record.KindVacancy, model.FieldSourceURLID, sourceURLID)
	if err != nil {
		return false, record.Unavailable("find vacancy by source url", err)
	}
	retired := false
	for _, rec := range recs {
		v, ok := rec.(*model.Vacancy)
		if !ok || !v.Active {
			continue
		}
		if err := e.deactivate(ctx, v); err != nil {
			return retired, err
		}
		retired = true
		e.notify(ctx, v, "retired")
	}
	return retired, nil
}

func (e *Engine) latest(ctx context.Context, sourceURLID int64) (*model.Vacancy, error) {
	recs, err := e.store.FindByEquals(ctx, record.KindVacancy, model.FieldSourceURLID, sourceURLID)
	if err != nil {
		return nil, record.Unavailable("find vacancy by source url", err)
	}
	var found *model.Vacancy
	for _, rec := range recs {
		v, ok := rec.(*model.Vacancy)
		if !ok {
			return nil, fmt.Errorf("find vacancy by source url: unexpected record %T", rec)
		}
		if found == nil || v.Version > found.Version {
			found = v
		}
	}
	return found, nil
}

// deactivate removes every tag association of v and persists it inactive.
func (e *Engine) deactivate(ctx context.Context, v *model.Vacancy) error {
	for _, kind := range model.TagKinds() {
		tags, err := e.store.Associated(ctx, v, kind)
		if err != nil {
			return record.Unavailable("list "+string(kind)+" tags", err)
		}
		for _, tag := range tags {
			if err := e.store.RemoveAssociation(ctx, v, tag); err != nil {
				return record.Unavailable("remove "+string(kind)+" tag", err)
			}
		}
	}
	if err := v.Deactivate(); err != nil && !errors.Is(err, model.ErrAlreadyInactive) {
		return err
	}
	if err := e.store.Save(ctx, v); err != nil {
		return record.Unavailable("save deactivated vacancy", err)
	}
	e.logger.Debug("vacancy deactivated",
		zap.Int64("source_url_id", v.SourceURLID),
		zap.String("vacancy_id", v.ID),
		zap.Int("version", v.Version),
	)
	return nil
}

func (e *Engine) insert(ctx context.Context, sourceURLID int64, fingerprint string, version int, f Fields) (*model.Vacancy, error) {
	id, err := e.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("new vacancy id: %w", err)
	}
	v := &model.Vacancy{
		ID:             id,
		SourceURLID:    sourceURLID,
		Hash:           fingerprint,
		Title:          f.Title,
		Employer:       f.Employer,
		EmploymentType: f.EmploymentType,
		Location:       f.Location,
		Description:    f.Description,
		ScrapedAt:      e.clock.Now(),
	}
	if err := v.Activate(version); err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, v); err != nil {
		return nil, record.Unavailable("save vacancy", err)
	}
	sets := tagSets(f)
	for _, kind := range model.TagKinds() {
		if err := e.attachTags(ctx, v, kind, sets[kind]); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func tagSets(f Fields) map[record.Kind][]string {
	return map[record.Kind][]string{
		record.KindSkill:     f.Skills,
		record.KindEducation: f.Educations,
		record.KindLocation:  f.Locations,
	}
}

// completeTags links every tag named in f that the active v is missing.
func (e *Engine) completeTags(ctx context.Context, v *model.Vacancy, f Fields) error {
	for kind, names := range tagSets(f) {
		if len(names) == 0 {
			continue
		}
		linked, err := e.store.Associated(ctx, v, kind)
		if err != nil {
			return record.Unavailable("list "+string(kind)+" tags", err)
		}
		have := make(map[string]struct{}, len(linked))
		for _, tag := range linked {
			have[model.TagName(tag)] = struct{}{}
		}
		missing := make([]string, 0, len(names))
		for _, name := range names {
			if _, ok := have[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) == 0 {
			continue
		}
		if err := e.attachTags(ctx, v, kind, missing); err != nil {
			return err
		}
		e.logger.Info("vacancy tags completed",
			zap.String("vacancy_id", v.ID),
			zap.String("kind", string(kind)),
			zap.Int("added", len(missing)),
		)
	}
	return nil
}

func (e *Engine) attachTags(ctx context.Context, v *model.Vacancy, kind record.Kind, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		tag, err := e.findOrCreateTag(ctx, kind, name)
		if err != nil {
			return err
		}
		if err := e.store.AddAssociation(ctx, v, tag); err != nil {
			return record.Unavailable("add "+string(kind)+" tag", err)
		}
	}
	return nil
}

func (e *Engine) findOrCreateTag(ctx context.Context, kind record.Kind, name string) (record.Record, error) {
	existing, err := e.store.FindByEquals(ctx, kind, model.FieldName, name)
	if err != nil {
		return nil, record.Unavailable("find "+string(kind), err)
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	id, err := e.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("new %s id: %w", kind, err)
	}
	tag, err := model.NewTag(kind, id, name)
	if err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, tag); err != nil {
		return nil, record.Unavailable("save "+string(kind), err)
	}
	return tag, nil
}

// notify publishes a ChangeNotice. Failures are logged only: the record is
// already persisted.
func (e *Engine) notify(ctx context.Context, v *model.Vacancy, change string) {
	if e.publisher == nil {
		return
	}
	notice := ChangeNotice{
		SourceURLID: v.SourceURLID,
		VacancyID:   v.ID,
		Version:     v.Version,
		Hash:        v.Hash,
		Change:      change,
		At:          e.clock.Now(),
	}
	if _, err := e.publisher.Publish(ctx, e.topic, notice); err != nil {
		e.logger.Warn("publish vacancy change failed",
			zap.Int64("source_url_id", v.SourceURLID),
			zap.String("vacancy_id", v.ID),
			zap.Error(err),
		)
	}
}
