// Package feed fetches a station's live board from an external source and
// normalises it into planner trains.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/model"
)

// Source returns the raw live board of a station.
type Source interface {
	Name() string
	Fetch(ctx context.Context, station string) ([]model.LiveTrainStatus, error)
}

// ErrBadStatus is wrapped when an upstream answers with a non-200 status.
var ErrBadStatus = errors.New("unexpected upstream status")

// DefaultLengthCoaches is used when neither the feed nor the lookup table
// knows a train's length.
const DefaultLengthCoaches = 18

// KnownLengths maps train numbers to rake length in coaches.
var KnownLengths = map[string]int{
	"12417":      24,
	"12002":      18,
	"04408":      12,
	"FREIGHT-01": 60,
	"12951":      22,
	"22435":      16,
	"12302":      22,
}

// unavailable wraps a fetch failure in the UPSTREAM_FEED_UNAVAILABLE
// taxonomy code.
func unavailable(source, station string, err error) error {
	return &core.Error{
		Code:     core.CodeUpstreamFeedUnavailable,
		Resource: station,
		Msg:      fmt.Sprintf("%s live board", source),
		Err:      err,
	}
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// Normalizer turns live board rows into planner trains.
type Normalizer struct {
	// DefaultLength applies when a row has no length and the train is not
	// in Lengths.
	DefaultLength int
	// Lengths overrides KnownLengths when set.
	Lengths map[string]int
}

// Normalize converts the rows of station's board, read at ref. Arrivals
// head for their reported platform; departures start from it. Expected
// times resolve to the occurrence nearest ref; missing times leave ETA
// zero, which the planner reads as "now". Rows are completed in place
// with length, status text and destination so the board can be shown as
// normalised. Duplicate train ids keep the first row.
func (n Normalizer) Normalize(station string, rows []model.LiveTrainStatus, ref time.Time) ([]model.Train, []model.LiveTrainStatus, []string) {
	lengths := n.Lengths
	if lengths == nil {
		lengths = KnownLengths
	}
	def := n.DefaultLength
	if def <= 0 {
		def = DefaultLengthCoaches
	}

	seen := make(map[string]bool, len(rows))
	trains := make([]model.Train, 0, len(rows))
	board := make([]model.LiveTrainStatus, 0, len(rows))
	var warnings []string

	for _, row := range rows {
		row.ID = strings.TrimSpace(row.ID)
		if row.ID == "" {
			warnings = append(warnings, "row without train number skipped")
			continue
		}
		if seen[row.ID] {
			warnings = append(warnings, fmt.Sprintf("duplicate train %s skipped", row.ID))
			continue
		}
		seen[row.ID] = true

		if row.LengthCoaches <= 0 {
			if l, ok := lengths[row.ID]; ok {
				row.LengthCoaches = l
			} else {
				row.LengthCoaches = def
			}
		}
		if row.EventType != model.EventDeparture {
			row.EventType = model.EventArrival
		}
		if row.Status == "" {
			row.Status = DescribeStatus(row, station)
		}

		platform := PlatformNode(row.PlatformNumber)
		t := model.Train{
			ID:              row.ID,
			Name:            row.Name,
			LengthCoaches:   row.LengthCoaches,
			Priority:        model.ParsePriorityClass(row.Type),
			CurrentLocation: row.LastLocation,
			Destination:     row.Destination,
			DelayMinutes:    row.DelayMinutes,
			ScheduledHalts:  append([]model.ScheduledHalt(nil), row.ScheduledHalts...),
		}
		switch {
		case row.EventType == model.EventDeparture && platform != "":
			t.CurrentLocation = platform
		case row.EventType == model.EventArrival && platform != "":
			t.Destination = platform
		}
		if row.Destination == "" && platform != "" {
			row.Destination = "P-" + strings.TrimPrefix(platform, "P")
		}

		if eta, ok := parseExpected(ref, row.ExpectedTime); ok {
			t.ETA = eta
		} else if !isMissing(row.ExpectedTime) {
			warnings = append(warnings, fmt.Sprintf("train %s: unreadable expected time %q", row.ID, row.ExpectedTime))
		}

		trains = append(trains, t)
		board = append(board, row)
	}
	return trains, board, warnings
}

// DescribeStatus renders the short status text shown on the board.
func DescribeStatus(row model.LiveTrainStatus, station string) string {
	atStation := station != "" && strings.Contains(strings.ToUpper(row.LastLocation), strings.ToUpper(station))
	switch {
	case row.EventType == model.EventDeparture && atStation:
		return "Departed " + station
	case row.EventType != model.EventDeparture && atStation:
		return "Halted at P-" + strings.TrimPrefix(PlatformNode(row.PlatformNumber), "P")
	case row.EventType != model.EventDeparture:
		return "Approaching from " + row.LastLocation
	}
	dest := row.Destination
	if dest == "" {
		dest = "destination"
	}
	return "En route to " + dest
}

// PlatformNode maps a feed platform number ("3", "P-3", "P3") to a node id
// ("P3"). Placeholders like "N/A" give "".
func PlatformNode(number string) string {
	v := strings.ToUpper(strings.TrimSpace(number))
	if isMissing(v) {
		return ""
	}
	v = strings.TrimPrefix(v, "P")
	v = strings.TrimPrefix(v, "-")
	if v == "" {
		return ""
	}
	return "P" + v
}

func parseExpected(ref time.Time, s string) (time.Time, bool) {
	if isMissing(s) {
		return time.Time{}, false
	}
	t, err := model.ParseClockNear(ref, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func isMissing(s string) bool {
	v := strings.TrimSpace(s)
	return v == "" || strings.EqualFold(v, "N/A") || v == "-"
}
