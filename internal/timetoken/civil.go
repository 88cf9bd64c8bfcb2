package timetoken

import (
	"fmt"
	"time"
)

// CivilTime is a wall-clock date and time in a specific IANA timezone.
// It is the form the console UI works in; the retrieval engine itself only
// ever sees timetokens.
type CivilTime struct {
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Day    int    `json:"day"`
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
	Second int    `json:"second"`
	Zone   string `json:"zone"`
}

// ToCivil converts a timetoken to wall-clock time in the given IANA zone.
func ToCivil(tt Timetoken, zone string) (CivilTime, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return CivilTime{}, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	t := tt.Time().In(loc)
	return CivilTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
		Zone:   zone,
	}, nil
}

// FromCivil converts wall-clock time in an IANA zone to a timetoken.
//
// The conversion interprets the civil fields as if they were UTC to get a
// first-guess instant, renders that instant back into the requested zone,
// and applies the observed wall-clock delta once. This is exact everywhere
// except within a DST transition, where the requested wall-clock time
// either does not exist or is ambiguous; there the result can be off by the
// transition's offset change. TestFromCivilDSTTransition documents the
// current behavior.
func FromCivil(ct CivilTime) (Timetoken, error) {
	loc, err := time.LoadLocation(ct.Zone)
	if err != nil {
		return 0, fmt.Errorf("unknown timezone %q: %w", ct.Zone, err)
	}
	if ct.Month < 1 || ct.Month > 12 {
		return 0, fmt.Errorf("invalid month %d", ct.Month)
	}

	guess := time.Date(ct.Year, time.Month(ct.Month), ct.Day, ct.Hour, ct.Minute, ct.Second, 0, time.UTC)
	rendered := guess.In(loc)
	renderedAsUTC := time.Date(
		rendered.Year(), rendered.Month(), rendered.Day(),
		rendered.Hour(), rendered.Minute(), rendered.Second(), 0, time.UTC,
	)

	// renderedAsUTC - guess is the zone offset at the guessed instant.
	delta := renderedAsUTC.Sub(guess)
	corrected := guess.Add(-delta)

	if corrected.Unix() < 0 {
		return 0, fmt.Errorf("civil time %04d-%02d-%02d predates the epoch", ct.Year, ct.Month, ct.Day)
	}
	return FromTime(corrected), nil
}
