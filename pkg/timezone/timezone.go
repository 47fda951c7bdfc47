// Package timezone converts bar timestamps into exchange-local civil
// time with deterministic handling of daylight-saving transitions. The
// provider sometimes reports daily bars with a spurious intraday offset
// around DST changes; FixAmbiguousOrSkipped renormalizes those back to
// local midnight.
package timezone

import (
	"strings"
	"time"
)

// transitions never sit further from a civil time than the widest
// real-world UTC offset
const maxOffsetProbe = 14 * time.Hour

// legacyZones maps Windows-style zone names to IANA identifiers. The
// provider uses IANA ids, but callers occasionally hand over legacy
// names.
var legacyZones = map[string]string{
	"eastern standard time":        "America/New_York",
	"central standard time":        "America/Chicago",
	"mountain standard time":       "America/Denver",
	"pacific standard time":        "America/Los_Angeles",
	"gmt standard time":            "Europe/London",
	"central europe standard time": "Europe/Paris",
	"tokyo standard time":          "Asia/Tokyo",
	"china standard time":          "Asia/Shanghai",
	"india standard time":          "Asia/Kolkata",
	"aus eastern standard time":    "Australia/Sydney",
}

// LoadLocation resolves a zone identifier: IANA first, then the legacy
// name table. The second return is false when neither matched and the
// caller got UTC as a fallback.
func LoadLocation(zoneID string) (*time.Location, bool) {
	if strings.TrimSpace(zoneID) == "" {
		return time.UTC, false
	}
	if loc, err := time.LoadLocation(zoneID); err == nil {
		return loc, true
	}
	if iana, ok := legacyZones[strings.ToLower(zoneID)]; ok {
		if loc, err := time.LoadLocation(iana); err == nil {
			return loc, true
		}
	}
	return time.UTC, false
}

// ToExchangeLocal maps a UTC instant into the zone's civil time. Unknown
// zones fall back to UTC.
func ToExchangeLocal(utc time.Time, zoneID string) time.Time {
	loc, _ := LoadLocation(zoneID)
	return utc.In(loc)
}

// FixAmbiguousOrSkipped corrects daily-bar timestamps reported at a
// spurious intraday local hour: any bar whose exchange-local time sits at
// a non-midnight whole hour is renormalized to local midnight of the
// same local date. Midnights that fall on a DST transition resolve
// deterministically via ResolveLocal. Unknown zones return the input
// unchanged (copied); there is nothing to correct against.
func FixAmbiguousOrSkipped(timestamps []time.Time, zoneID string) []time.Time {
	out := make([]time.Time, len(timestamps))
	copy(out, timestamps)

	loc, known := LoadLocation(zoneID)
	if !known {
		return out
	}

	for i, ts := range out {
		local := ts.In(loc)
		if local.Hour() != 0 && local.Minute() == 0 {
			midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
			out[i] = ResolveLocal(midnight, loc).UTC()
		} else {
			out[i] = ts.UTC()
		}
	}
	return out
}

// ResolveLocal maps a civil time (the clock-face fields of local,
// regardless of its own location) to a UTC instant in loc:
//
//   - unambiguous civil times map to their single instant
//   - fall-back ambiguities (the civil time occurs twice) resolve to the
//     earlier, pre-transition instant
//   - spring-forward gaps (the civil time never occurs) snap to the first
//     instant after the gap
func ResolveLocal(local time.Time, loc *time.Location) time.Time {
	civil := time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC)
	civilUnix := civil.Unix()

	// Each UTC offset in force near the civil time yields one candidate
	// instant; a candidate is valid when it reads back as the requested
	// clock face.
	earliest := int64(0)
	found := false
	for _, off := range nearbyOffsets(loc, civilUnix) {
		candidate := civilUnix - int64(off)
		if sameCivil(time.Unix(candidate, 0).In(loc), civil) {
			if !found || candidate < earliest {
				earliest = candidate
				found = true
			}
		}
	}
	if found {
		return time.Unix(earliest, 0).In(loc)
	}

	// No offset produces this clock face: the civil time fell into a
	// spring-forward gap. Binary search for the transition instant, which
	// starts the post-gap interval.
	lo := civilUnix - int64(maxOffsetProbe/time.Second)
	hi := civilUnix + int64(maxOffsetProbe/time.Second)
	after := offsetAt(loc, hi)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if offsetAt(loc, mid) == after {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return time.Unix(lo, 0).In(loc)
}

// nearbyOffsets returns the distinct UTC offsets in force around a civil
// time, probing both sides of any transition near it.
func nearbyOffsets(loc *time.Location, civilUnix int64) []int {
	probe := int64(maxOffsetProbe / time.Second)
	seen := make(map[int]struct{}, 3)
	offsets := make([]int, 0, 3)
	for _, delta := range []int64{-probe, 0, probe} {
		off := offsetAt(loc, civilUnix+delta)
		if _, ok := seen[off]; !ok {
			seen[off] = struct{}{}
			offsets = append(offsets, off)
		}
	}
	return offsets
}

func offsetAt(loc *time.Location, unix int64) int {
	_, off := time.Unix(unix, 0).In(loc).Zone()
	return off
}

func sameCivil(a, civil time.Time) bool {
	return a.Year() == civil.Year() &&
		a.Month() == civil.Month() &&
		a.Day() == civil.Day() &&
		a.Hour() == civil.Hour() &&
		a.Minute() == civil.Minute() &&
		a.Second() == civil.Second()
}
