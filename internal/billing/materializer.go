package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const materializeConcurrency = 4

// TemplateError pairs a failed template with its cause.
type TemplateError struct {
	TemplateID int64
	Err        error
}

// MaterializeResult reports what a materialization run produced.
type MaterializeResult struct {
	Created []SessionInstance
	Errors  []TemplateError
}

// MaterializeRecurring expands every active recurring template into a
// concrete session instance for the given date. A template is skipped when
// its weekday selection excludes the date or an instance already exists for
// (template, date), so the run is safe to repeat any number of times per
// day. One template's failure never aborts the others.
func (s *Service) MaterializeRecurring(ctx context.Context, asOf time.Time, accountScope *int64) (MaterializeResult, error) {
	date := DateOf(asOf)
	weekday := date.Weekday()

	templates, err := s.repo.ListActiveTemplates(ctx, accountScope)
	if err != nil {
		return MaterializeResult{}, err
	}

	var (
		mu     sync.Mutex
		result MaterializeResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(materializeConcurrency)
	for i := range templates {
		tpl := templates[i]
		g.Go(func() error {
			created, err := s.materializeTemplate(gctx, tpl, date, weekday)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, TemplateError{TemplateID: tpl.ID, Err: err})
				s.logger.Error("materialize template",
					slog.Int64("template_id", tpl.ID),
					slog.Any("error", err))
				return nil
			}
			if created != nil {
				result.Created = append(result.Created, *created)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.AddMaterialized(len(result.Created))
	s.logger.Info("materialization run finished",
		slog.Time("date", date),
		slog.Int("created", len(result.Created)),
		slog.Int("failed", len(result.Errors)))
	return result, nil
}

// materializeTemplate creates the instance for one template, or returns
// (nil, nil) when the weekday gate or the existence guard skips it.
func (s *Service) materializeTemplate(ctx context.Context, tpl RecurringTemplate, date time.Time, weekday time.Weekday) (*SessionInstance, error) {
	if !tpl.Weekdays.Includes(weekday) {
		return nil, nil
	}

	exists, err := s.repo.HasInstanceForTemplate(ctx, tpl.ID, date)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	owner, err := s.repo.GetAccount(ctx, tpl.AccountID)
	if err != nil {
		return nil, err
	}

	templateID := tpl.ID
	created, err := s.repo.CreateSessionInstance(ctx, SessionInstanceInput{
		AccountID:        tpl.AccountID,
		TemplateID:       &templateID,
		CascadeAccountID: owner.ParentID,
		Date:             date,
		MemberCount:      tpl.MemberCount,
		MemberClass:      tpl.MemberClass,
		Status:           StatusActive,
	})
	if err != nil {
		// A concurrent run won the (template, date) race; treat as skipped.
		if errors.Is(err, ErrDuplicateInstance) {
			return nil, nil
		}
		return nil, err
	}

	// lastMaterialized is advisory bookkeeping; the existence check above is
	// the real idempotency guard.
	if err := s.repo.MarkTemplateMaterialized(ctx, tpl.ID, date); err != nil {
		s.logger.Warn("mark template materialized",
			slog.Int64("template_id", tpl.ID),
			slog.Any("error", err))
	}
	return created, nil
}
