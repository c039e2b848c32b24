package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedTemplate(repo *memoryRepo, id, accountID int64, days Weekdays) {
	repo.templates[id] = &RecurringTemplate{
		ID:          id,
		AccountID:   accountID,
		MeetingID:   "883-112-4401",
		MemberCount: 6,
		MemberClass: MemberStandard,
		Weekdays:    days,
		Active:      true,
	}
}

func TestMaterializeCreatesInstancesForMatchingWeekday(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	seedTemplate(repo, 10, 2, NewWeekdays(time.Monday, time.Wednesday))
	seedTemplate(repo, 11, 2, NewWeekdays(time.Tuesday))
	seedTemplate(repo, 12, 2, 0) // every day
	svc := newTestService(repo)

	result, err := svc.MaterializeRecurring(context.Background(), monday, nil)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Created, 2)

	for _, created := range result.Created {
		require.Equal(t, int64(2), created.AccountID)
		require.NotNil(t, created.CascadeAccountID)
		require.Equal(t, int64(1), *created.CascadeAccountID)
		require.False(t, created.Attended)
		require.Equal(t, StatusActive, created.Status)
	}

	// Materialized instances carry no attendance, so nothing is due yet.
	_, err = svc.GetDailyDue(context.Background(), 2, monday)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMaterializeIsRepeatSafe(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	seedTemplate(repo, 10, 2, 0)
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.MaterializeRecurring(ctx, monday, nil)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := svc.MaterializeRecurring(ctx, monday, nil)
	require.NoError(t, err)
	require.Empty(t, second.Created)
	require.Empty(t, second.Errors)
	require.Len(t, repo.sessions, 1)
}

func TestMaterializeCancelledInstanceDoesNotBlockRerun(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	seedTemplate(repo, 10, 2, 0)
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.MaterializeRecurring(ctx, monday, nil)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	cancelled := first.Created[0]
	cancelled.Status = StatusCancelled
	_, err = svc.UpdateSession(ctx, &cancelled)
	require.NoError(t, err)

	second, err := svc.MaterializeRecurring(ctx, monday, nil)
	require.NoError(t, err)
	require.Len(t, second.Created, 1)
}

func TestMaterializeIsolatesTemplateFailures(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	seedTemplate(repo, 10, 2, 0)
	seedTemplate(repo, 11, 99, 0) // owner does not exist
	svc := newTestService(repo)

	result, err := svc.MaterializeRecurring(context.Background(), monday, nil)
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Len(t, result.Errors, 1)
	require.Equal(t, int64(11), result.Errors[0].TemplateID)
	require.ErrorIs(t, result.Errors[0].Err, ErrNotFound)
}

func TestMaterializeScopedToAccount(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	repo.accounts[3] = &Account{ID: 3, Name: "Lakeview Prep"}
	seedTemplate(repo, 10, 2, 0)
	seedTemplate(repo, 11, 3, 0)
	svc := newTestService(repo)

	scope := int64(3)
	result, err := svc.MaterializeRecurring(context.Background(), monday, &scope)
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Equal(t, int64(3), result.Created[0].AccountID)
}

func TestMaterializeMarksTemplate(t *testing.T) {
	repo := newMemoryRepo()
	seedHierarchy(repo)
	seedTemplate(repo, 10, 2, 0)
	svc := newTestService(repo)

	_, err := svc.MaterializeRecurring(context.Background(), monday, nil)
	require.NoError(t, err)
	require.NotNil(t, repo.templates[10].LastMaterialized)
	require.True(t, SameDate(*repo.templates[10].LastMaterialized, monday))
}
