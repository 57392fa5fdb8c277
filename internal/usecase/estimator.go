package usecase

import (
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

const (
	// typicalRaceDuration covers the race itself plus red flags and the podium.
	typicalRaceDuration = 3 * time.Hour
	// fallbackEndHourUTC is used when only the calendar date is known.
	fallbackEndHourUTC = 15
)

// raceDayOffset[i] is how many calendar days after session i+1 the race runs
// on a standard weekend (practice Friday, qualifying Saturday, race Sunday).
var raceDayOffset = [domain.SessionCount - 1]int{2, 2, 1, 1}

// EstimateEndTime returns a best-effort UTC estimate of when the event's race
// finishes. The race session start wins; otherwise the latest known earlier
// session is projected onto race day; otherwise the calendar date is used.
func EstimateEndTime(e *domain.Event) (time.Time, error) {
	race := domain.SessionCount - 1
	if t := e.Sessions[race]; t != nil {
		return t.UTC().Add(typicalRaceDuration), nil
	}

	for i := race - 1; i >= 0; i-- {
		if t := e.Sessions[i]; t != nil {
			return t.UTC().AddDate(0, 0, raceDayOffset[i]).Add(typicalRaceDuration), nil
		}
	}

	if e.EventDate != nil {
		d := e.EventDate.UTC()
		return time.Date(d.Year(), d.Month(), d.Day(), fallbackEndHourUTC, 0, 0, 0, time.UTC), nil
	}

	return time.Time{}, domain.ErrEstimationUnavailable
}
