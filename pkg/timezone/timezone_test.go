package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, zoneID string) *time.Location {
	t.Helper()
	loc, ok := LoadLocation(zoneID)
	require.True(t, ok, "zone %s must resolve", zoneID)
	return loc
}

func TestLoadLocationIANA(t *testing.T) {
	loc, ok := LoadLocation("America/New_York")
	assert.True(t, ok)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoadLocationLegacyNames(t *testing.T) {
	loc, ok := LoadLocation("Eastern Standard Time")
	assert.True(t, ok)
	assert.Equal(t, "America/New_York", loc.String())

	loc, ok = LoadLocation("tokyo standard time")
	assert.True(t, ok)
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestLoadLocationUnknownFallsBackToUTC(t *testing.T) {
	loc, ok := LoadLocation("Not/AZone")
	assert.False(t, ok)
	assert.Equal(t, time.UTC, loc)

	loc, ok = LoadLocation("")
	assert.False(t, ok)
	assert.Equal(t, time.UTC, loc)
}

func TestToExchangeLocal(t *testing.T) {
	utc := time.Date(2024, time.June, 15, 18, 30, 0, 0, time.UTC)
	local := ToExchangeLocal(utc, "America/New_York")
	assert.Equal(t, 14, local.Hour())
	assert.Equal(t, "America/New_York", local.Location().String())
}

func TestResolveLocalUnambiguous(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	civil := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	got := ResolveLocal(civil, loc)
	assert.Equal(t, time.Date(2024, time.June, 15, 16, 0, 0, 0, time.UTC), got.UTC())
}

func TestResolveLocalFallBackPrefersEarlier(t *testing.T) {
	// 2024-11-03 01:30 occurs twice in New York; the earlier occurrence is
	// still on EDT (UTC-4).
	loc := mustLoad(t, "America/New_York")
	civil := time.Date(2024, time.November, 3, 1, 30, 0, 0, time.UTC)

	got := ResolveLocal(civil, loc)
	assert.Equal(t, time.Date(2024, time.November, 3, 5, 30, 0, 0, time.UTC), got.UTC())

	// Deterministic across repeated calls.
	for i := 0; i < 5; i++ {
		assert.Equal(t, got.UTC(), ResolveLocal(civil, loc).UTC())
	}
}

func TestResolveLocalSpringForwardSnapsAfterGap(t *testing.T) {
	// 2024-03-10 02:30 never occurs in New York; the post-gap interval
	// starts at 03:00 EDT, which is 07:00 UTC.
	loc := mustLoad(t, "America/New_York")
	civil := time.Date(2024, time.March, 10, 2, 30, 0, 0, time.UTC)

	got := ResolveLocal(civil, loc)
	assert.Equal(t, time.Date(2024, time.March, 10, 7, 0, 0, 0, time.UTC), got.UTC())

	for i := 0; i < 5; i++ {
		assert.Equal(t, got.UTC(), ResolveLocal(civil, loc).UTC())
	}
}

func TestFixAmbiguousOrSkippedRenormalizesDailyBars(t *testing.T) {
	// A daily bar reported at 01:00 local instead of midnight.
	input := []time.Time{
		time.Date(2024, time.June, 15, 5, 0, 0, 0, time.UTC), // 01:00 EDT
	}
	out := FixAmbiguousOrSkipped(input, "America/New_York")
	require.Len(t, out, 1)
	// Midnight EDT on June 15 is 04:00 UTC.
	assert.Equal(t, time.Date(2024, time.June, 15, 4, 0, 0, 0, time.UTC), out[0])
}

func TestFixAmbiguousOrSkippedLeavesMidnightBars(t *testing.T) {
	midnight := time.Date(2024, time.June, 15, 4, 0, 0, 0, time.UTC) // 00:00 EDT
	out := FixAmbiguousOrSkipped([]time.Time{midnight}, "America/New_York")
	assert.Equal(t, midnight, out[0])
}

func TestFixAmbiguousOrSkippedLeavesIntradayBars(t *testing.T) {
	intraday := time.Date(2024, time.June, 15, 14, 30, 0, 0, time.UTC) // 10:30 EDT
	out := FixAmbiguousOrSkipped([]time.Time{intraday}, "America/New_York")
	assert.Equal(t, intraday, out[0])
}

func TestFixAmbiguousOrSkippedGapMidnight(t *testing.T) {
	// Brazil started DST on 2018-11-04: local midnight jumped straight to
	// 01:00, so midnight never occurred. The bar snaps to the first valid
	// instant after the gap, 01:00 at UTC-2.
	input := []time.Time{
		time.Date(2018, time.November, 4, 4, 0, 0, 0, time.UTC), // 02:00 local
	}
	out := FixAmbiguousOrSkipped(input, "America/Sao_Paulo")
	require.Len(t, out, 1)
	assert.Equal(t, time.Date(2018, time.November, 4, 3, 0, 0, 0, time.UTC), out[0])
}

func TestFixAmbiguousOrSkippedUnknownZoneUnchanged(t *testing.T) {
	input := []time.Time{
		time.Date(2024, time.June, 15, 5, 0, 0, 0, time.UTC),
		time.Date(2024, time.June, 16, 5, 0, 0, 0, time.UTC),
	}
	out := FixAmbiguousOrSkipped(input, "Not/AZone")
	assert.Equal(t, input, out)
}

func TestFixAmbiguousOrSkippedEmptyInput(t *testing.T) {
	out := FixAmbiguousOrSkipped(nil, "America/New_York")
	assert.Empty(t, out)
}
