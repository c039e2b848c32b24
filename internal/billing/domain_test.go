package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWeekdaysZeroValueSelectsEveryDay(t *testing.T) {
	var w Weekdays
	for d := time.Sunday; d <= time.Saturday; d++ {
		require.True(t, w.Includes(d))
	}
	require.Nil(t, w.Ints())
}

func TestWeekdaysSelection(t *testing.T) {
	w := NewWeekdays(time.Monday, time.Wednesday)
	require.True(t, w.Includes(time.Monday))
	require.True(t, w.Includes(time.Wednesday))
	require.False(t, w.Includes(time.Sunday))
	require.False(t, w.Includes(time.Saturday))
	require.Equal(t, []int{1, 3}, w.Ints())
}

func TestWeekdaysFromInts(t *testing.T) {
	w, err := WeekdaysFromInts([]int{0, 6})
	require.NoError(t, err)
	require.True(t, w.Includes(time.Sunday))
	require.True(t, w.Includes(time.Saturday))
	require.False(t, w.Includes(time.Wednesday))

	_, err = WeekdaysFromInts([]int{7})
	require.ErrorIs(t, err, ErrInvalidWeekday)
	_, err = WeekdaysFromInts([]int{-1})
	require.ErrorIs(t, err, ErrInvalidWeekday)
}

func TestQualifies(t *testing.T) {
	base := SessionInstance{Attended: true, EvidenceRef: "rec", Status: StatusActive}
	require.True(t, base.Qualifies())

	notLive := base
	notLive.Status = StatusNotLive
	require.True(t, notLive.Qualifies())

	unattended := base
	unattended.Attended = false
	require.False(t, unattended.Qualifies())

	noEvidence := base
	noEvidence.EvidenceRef = ""
	require.False(t, noEvidence.Qualifies())

	cancelled := base
	cancelled.Status = StatusCancelled
	require.False(t, cancelled.Qualifies())

	badCreds := base
	badCreds.Status = StatusInvalidCredentials
	require.False(t, badCreds.Qualifies())

	var nilInstance *SessionInstance
	require.False(t, nilInstance.Qualifies())
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	stamp := time.Date(2026, 3, 3, 2, 30, 0, 0, loc) // 2026-03-02 19:30 UTC
	day := DateOf(stamp)
	require.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), day)
	require.True(t, SameDate(stamp, day))
}
