package model

// EventType says whether a live status refers to an arrival or a departure.
type EventType string

const (
	EventArrival   EventType = "ARRIVAL"
	EventDeparture EventType = "DEPARTURE"
)

// LiveTrainStatus is one row of a station's live board as reported by the
// external feed. Every field except ID may be missing.
type LiveTrainStatus struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	LastLocation   string          `json:"last_location"`
	Destination    string          `json:"destination"`
	ExpectedTime   string          `json:"expected_time"`
	DelayMinutes   int             `json:"delay_minutes"`
	PlatformNumber string          `json:"platform_number"`
	EventType      EventType       `json:"event_type"`
	LengthCoaches  int             `json:"length_coaches"`
	ScheduledHalts []ScheduledHalt `json:"scheduled_halts,omitempty"`
}
