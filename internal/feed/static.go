package feed

import (
	"context"
	"strings"

	"github.com/signalsfoundry/saarathi/model"
)

// StaticSource serves a fixed board per station. It stands in for the live
// feed when no API key is configured.
type StaticSource struct {
	Boards map[string][]model.LiveTrainStatus
}

// NewStaticSource returns a source carrying the built-in NDLS morning
// board.
func NewStaticSource() *StaticSource {
	return &StaticSource{Boards: map[string][]model.LiveTrainStatus{"NDLS": ndlsMorningBoard()}}
}

// Name implements Source.
func (s *StaticSource) Name() string { return "static" }

// Fetch implements Source. Stations without a board get an empty one.
func (s *StaticSource) Fetch(ctx context.Context, station string) ([]model.LiveTrainStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := s.Boards[strings.ToUpper(station)]
	out := make([]model.LiveTrainStatus, len(rows))
	for i, r := range rows {
		r.ScheduledHalts = append([]model.ScheduledHalt(nil), r.ScheduledHalts...)
		out[i] = r
	}
	return out, nil
}

func ndlsMorningBoard() []model.LiveTrainStatus {
	return []model.LiveTrainStatus{
		{
			ID: "12417", Name: "Prayagraj Express", Type: "Express", Status: "On Time",
			LastLocation: "Ghaziabad Jn.", Destination: "NDLS P-3", ExpectedTime: "07:00",
			PlatformNumber: "3", EventType: model.EventArrival, LengthCoaches: 24,
			ScheduledHalts: []model.ScheduledHalt{{StationID: "NDLS", PlatformID: "3", DurationMinutes: 15}},
		},
		{
			ID: "12002", Name: "Shatabdi Express", Type: "High-Speed", Status: "Delayed",
			LastLocation: "Panipat Jn.", Destination: "NDLS P-1", ExpectedTime: "07:15", DelayMinutes: 15,
			PlatformNumber: "1", EventType: model.EventArrival, LengthCoaches: 18,
		},
		{
			ID: "04408", Name: "NZM-GZB MEMU", Type: "Local", Status: "On Time",
			LastLocation: "Anand Vihar", Destination: "NDLS P-12", ExpectedTime: "07:05",
			PlatformNumber: "12", EventType: model.EventArrival, LengthCoaches: 12,
		},
		{
			ID: "FREIGHT-01", Name: "Container Goods", Type: "Freight", Status: "Halted",
			LastLocation: "Yard Line 5", Destination: "Tughlakabad", ExpectedTime: "N/A",
			PlatformNumber: "N/A", EventType: model.EventDeparture, LengthCoaches: 60,
		},
		{
			ID: "12951", Name: "Mumbai Rajdhani", Type: "Express", Status: "On Time",
			LastLocation: "Approaching Outer Signal", Destination: "NDLS P-2", ExpectedTime: "08:30",
			PlatformNumber: "2", EventType: model.EventArrival, LengthCoaches: 22,
			ScheduledHalts: []model.ScheduledHalt{{StationID: "NDLS", PlatformID: "2", DurationMinutes: 20}},
		},
	}
}
