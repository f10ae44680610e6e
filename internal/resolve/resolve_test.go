package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Thursday, 2025-09-18 17:00 local.
func testAnchor(t *testing.T) (time.Time, *Resolver) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2025, 9, 18, 17, 0, 0, 0, loc), New(loc, 90)
}

func TestResolveRelativeDates(t *testing.T) {
	anchor, r := testAnchor(t)

	assert.Equal(t, "2025-09-18", r.Resolve("Join us Tonight!", anchor).Date)
	assert.Equal(t, "2025-09-18", r.Resolve("today at the table", anchor).Date)
	assert.Equal(t, "2025-09-19", r.Resolve("Tomorrow in the JCR", anchor).Date)
}

func TestResolveWeekdayInclusive(t *testing.T) {
	anchor, r := testAnchor(t)

	// The anchor is a Thursday; "Thursday" means the anchor day itself.
	assert.Equal(t, "2025-09-18", r.Resolve("See you Thursday", anchor).Date)
	assert.Equal(t, "2025-09-19", r.Resolve("Friday social", anchor).Date)
	assert.Equal(t, "2025-09-22", r.Resolve("Monday study break", anchor).Date)
	assert.Equal(t, "2025-09-24", r.Resolve("wednesday wednesday WEDNESDAY", anchor).Date)
}

func TestResolveMonthDay(t *testing.T) {
	anchor, r := testAnchor(t)

	assert.Equal(t, "2025-09-25", r.Resolve("Sept 25 kickoff", anchor).Date)
	assert.Equal(t, "2025-10-03", r.Resolve("October 3rd, doors at 7", anchor).Date)
	// Year-less month/day far enough in the past rolls to next year
	assert.Equal(t, "2026-01-15", r.Resolve("January 15 retreat", anchor).Date)
	// Recent past within the grace window stays in the anchor year
	assert.Equal(t, "2025-09-10", r.Resolve("Sep 10 recap", anchor).Date)
}

func TestResolveNumericAndISODates(t *testing.T) {
	anchor, r := testAnchor(t)

	assert.Equal(t, "2025-09-26", r.Resolve("on 9/26 at noon", anchor).Date)
	assert.Equal(t, "2025-11-02", r.Resolve("11/2/2025 showcase", anchor).Date)
	assert.Equal(t, "2025-12-01", r.Resolve("starts 2025-12-01", anchor).Date)
}

func TestResolveEarliestUpcomingWins(t *testing.T) {
	anchor, r := testAnchor(t)

	// Several plausible dates: keep the earliest on-or-after the anchor.
	res := r.Resolve("Practice Monday, show Sept 27, dress rehearsal Friday", anchor)
	assert.Equal(t, "2025-09-19", res.Date)
}

func TestResolveAllPastKeepsMostExplicit(t *testing.T) {
	anchor, r := testAnchor(t)

	res := r.Resolve("Recap of 2025-09-01", anchor)
	assert.Equal(t, "2025-09-01", res.Date)
}

func TestResolveNothing(t *testing.T) {
	anchor, r := testAnchor(t)

	res := r.Resolve("We are hiring software engineers", anchor)
	assert.Equal(t, "", res.Date)
	assert.Nil(t, res.TimeStart)
	assert.Nil(t, res.TimeEnd)
}

func TestResolveInvalidCalendarDate(t *testing.T) {
	anchor, r := testAnchor(t)

	// Feb 30 must not normalize into March
	assert.Equal(t, "", r.Resolve("Feb 30 party", anchor).Date)
}

func TestResolveTimeRangeWithContext(t *testing.T) {
	anchor, r := testAnchor(t)

	res := r.Resolve("Resume Review Table 9-10 Tonight!", anchor)
	assert.Equal(t, "2025-09-18", res.Date)
	require.NotNil(t, res.TimeStart)
	require.NotNil(t, res.TimeEnd)
	assert.Equal(t, "21:00", *res.TimeStart)
	assert.Equal(t, "22:00", *res.TimeEnd)
}

func TestResolveTimeRangeSharedMeridiem(t *testing.T) {
	anchor, r := testAnchor(t)

	res := r.Resolve("office hours 9:30-10:45 am tomorrow", anchor)
	require.NotNil(t, res.TimeStart)
	require.NotNil(t, res.TimeEnd)
	assert.Equal(t, "09:30", *res.TimeStart)
	assert.Equal(t, "10:45", *res.TimeEnd)
}

func TestResolveSingleTime(t *testing.T) {
	anchor, r := testAnchor(t)

	res := r.Resolve("dinner at 6pm Friday", anchor)
	require.NotNil(t, res.TimeStart)
	assert.Equal(t, "18:00", *res.TimeStart)
	assert.Nil(t, res.TimeEnd)

	// Noon and midnight edges
	res = r.Resolve("lunch at 12pm", anchor)
	require.NotNil(t, res.TimeStart)
	assert.Equal(t, "12:00", *res.TimeStart)

	res = r.Resolve("ends at 12am", anchor)
	require.NotNil(t, res.TimeStart)
	assert.Equal(t, "00:00", *res.TimeStart)
}

func TestResolveBareNumberStaysUnset(t *testing.T) {
	anchor, r := testAnchor(t)

	// "5" with no meridiem and no context cue resolves no time at all
	res := r.Resolve("meet at 5 on Friday", anchor)
	assert.Nil(t, res.TimeStart)
	assert.Nil(t, res.TimeEnd)
}

func TestResolveExplicit24HourClock(t *testing.T) {
	anchor, r := testAnchor(t)

	res := r.Resolve("doors at 19:30", anchor)
	require.NotNil(t, res.TimeStart)
	assert.Equal(t, "19:30", *res.TimeStart)
}

func TestResolveRangeEndBeforeStart(t *testing.T) {
	anchor, r := testAnchor(t)

	// End not after start: keep the start, drop the end
	res := r.Resolve("open 10pm-9pm tonight", anchor)
	require.NotNil(t, res.TimeStart)
	assert.Equal(t, "22:00", *res.TimeStart)
	assert.Nil(t, res.TimeEnd)
}

func TestResolveISODateNotMisreadAsTime(t *testing.T) {
	anchor, r := testAnchor(t)

	res := r.Resolve("save the date 2025-09-18", anchor)
	assert.Equal(t, "2025-09-18", res.Date)
	assert.Nil(t, res.TimeStart)
	assert.Nil(t, res.TimeEnd)
}
