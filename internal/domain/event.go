package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrInvalidEventKey = errors.New("invalid event key")
)

// SessionCount is the number of session slots a race weekend carries.
// The last slot is the main race.
const SessionCount = 5

// EventKey identifies an event by season year and round ordinal.
type EventKey struct {
	Season int
	Round  int
}

func (k EventKey) String() string {
	return fmt.Sprintf("%d:%d", k.Season, k.Round)
}

func (k EventKey) Valid() bool {
	return k.Season > 0 && k.Round > 0
}

func (k EventKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKey) UnmarshalText(b []byte) error {
	parsed, err := ParseEventKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseEventKey parses the "season:round" form produced by String.
func ParseEventKey(s string) (EventKey, error) {
	season, round, ok := strings.Cut(s, ":")
	if !ok {
		return EventKey{}, fmt.Errorf("%w: %q", ErrInvalidEventKey, s)
	}
	y, err := strconv.Atoi(season)
	if err != nil {
		return EventKey{}, fmt.Errorf("%w: %q", ErrInvalidEventKey, s)
	}
	r, err := strconv.Atoi(round)
	if err != nil {
		return EventKey{}, fmt.Errorf("%w: %q", ErrInvalidEventKey, s)
	}
	k := EventKey{Season: y, Round: r}
	if !k.Valid() {
		return EventKey{}, fmt.Errorf("%w: %q", ErrInvalidEventKey, s)
	}
	return k, nil
}

// Event is a race weekend as read from the calendar. Owned by the domain store;
// this service never writes it.
type Event struct {
	Key       EventKey
	Name      string
	EventDate *time.Time
	// Sessions[i] is the start of session i+1; nil when unknown.
	Sessions [SessionCount]*time.Time
}
