package model

import (
	"fmt"
	"strings"
	"time"
)

// CoachLengthMeters is the physical length of a single coach.
const CoachLengthMeters = 25

// PriorityClass ranks trains for scheduling. Lower values are served first.
type PriorityClass int

const (
	PriorityExpress PriorityClass = iota
	PriorityHighSpeed
	PriorityLocal
	PriorityFreight
)

func (p PriorityClass) String() string {
	switch p {
	case PriorityExpress:
		return "EXPRESS"
	case PriorityHighSpeed:
		return "HIGH_SPEED"
	case PriorityLocal:
		return "LOCAL"
	case PriorityFreight:
		return "FREIGHT"
	default:
		return fmt.Sprintf("PriorityClass(%d)", int(p))
	}
}

// Outranks reports whether p is served before other.
func (p PriorityClass) Outranks(other PriorityClass) bool { return p < other }

// MarshalText renders the class name.
func (p PriorityClass) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText accepts any spelling ParsePriorityClass understands and falls
// back to LOCAL for unknown values.
func (p *PriorityClass) UnmarshalText(b []byte) error {
	*p = ParsePriorityClass(string(b))
	return nil
}

// ParsePriorityClass maps feed labels ("Express", "High-Speed", "LOCAL",
// "freight", ...) onto a PriorityClass. Unknown or empty labels are LOCAL.
func ParsePriorityClass(s string) PriorityClass {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	switch v {
	case "EXPRESS", "SUPERFAST", "RAJDHANI":
		return PriorityExpress
	case "HIGH_SPEED", "HIGHSPEED", "SHATABDI", "VANDE_BHARAT":
		return PriorityHighSpeed
	case "FREIGHT", "GOODS":
		return PriorityFreight
	default:
		return PriorityLocal
	}
}

// ScheduledHalt is a mandatory dwell at a platform of a station.
type ScheduledHalt struct {
	StationID       string `json:"station"`
	PlatformID      string `json:"platform"`
	DurationMinutes int    `json:"duration" validate:"gte=0"`
}

// Duration returns the dwell as a time.Duration.
func (h ScheduledHalt) Duration() time.Duration {
	return time.Duration(h.DurationMinutes) * time.Minute
}

// Train is the planner's view of one train. CurrentLocation and Destination
// are node ids when they exist in the station topology and free text
// otherwise. Destination may also name a track id.
type Train struct {
	ID              string          `json:"id" validate:"required"`
	Name            string          `json:"name,omitempty"`
	LengthCoaches   int             `json:"length_coaches" validate:"gte=0"`
	Priority        PriorityClass   `json:"priority_class"`
	CurrentLocation string          `json:"current_location"`
	Destination     string          `json:"destination"`
	ETA             time.Time       `json:"eta"`
	ScheduledHalts  []ScheduledHalt `json:"scheduled_halts,omitempty" validate:"dive"`
	DelayMinutes    int             `json:"delay_minutes"`
}

// LengthMeters returns the physical train length.
func (t Train) LengthMeters() float64 {
	return float64(t.LengthCoaches * CoachLengthMeters)
}

// RequestedAt is the time the train wants to start moving: ETA plus the
// accumulated delay.
func (t Train) RequestedAt() time.Time {
	return t.ETA.Add(time.Duration(t.DelayMinutes) * time.Minute)
}

// HaltsAt returns the halts scheduled at the given station, in order. An
// empty StationID on a halt matches any station.
func (t Train) HaltsAt(station string) []ScheduledHalt {
	var out []ScheduledHalt
	for _, h := range t.ScheduledHalts {
		if h.StationID == "" || strings.EqualFold(h.StationID, station) {
			out = append(out, h)
		}
	}
	return out
}

// Clone returns a copy that shares no slices with t.
func (t Train) Clone() Train {
	t.ScheduledHalts = append([]ScheduledHalt(nil), t.ScheduledHalts...)
	return t
}
