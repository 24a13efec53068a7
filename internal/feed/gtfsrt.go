package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/signalsfoundry/saarathi/model"
)

// GTFSRTSource builds the live board from a GTFS-realtime TripUpdates feed.
// Platform-level stops are expected as "<STATION>:<platform>" (for example
// "NDLS:3"); a bare station stop id matches with no platform.
type GTFSRTSource struct {
	URL      string
	Client   *http.Client
	Location *time.Location
}

// NewGTFSRTSource builds a source reading url; times are rendered in loc
// (UTC when nil).
func NewGTFSRTSource(url string, client *http.Client, loc *time.Location) *GTFSRTSource {
	if loc == nil {
		loc = time.UTC
	}
	return &GTFSRTSource{URL: url, Client: defaultClient(client), Location: loc}
}

// Name implements Source.
func (s *GTFSRTSource) Name() string { return "gtfs-rt" }

// Fetch implements Source.
func (s *GTFSRTSource) Fetch(ctx context.Context, station string) ([]model.LiveTrainStatus, error) {
	feed, err := s.fetchFeed(ctx)
	if err != nil {
		return nil, unavailable(s.Name(), station, err)
	}
	return s.board(feed, station), nil
}

func (s *GTFSRTSource) fetchFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w %d", ErrBadStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("parse protobuf: %w", err)
	}
	return feed, nil
}

// board keeps trip updates that call at station. The stop before the
// station becomes the last location and the last stop the destination.
func (s *GTFSRTSource) board(feed *gtfs.FeedMessage, station string) []model.LiveTrainStatus {
	station = strings.ToUpper(station)
	var out []model.LiveTrainStatus
	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		stops := tu.GetStopTimeUpdate()
		idx, platform := -1, ""
		for i, stu := range stops {
			code, plat := splitStop(stu.GetStopId())
			if code == station {
				idx, platform = i, plat
				break
			}
		}
		if idx < 0 {
			continue
		}
		call := stops[idx]

		row := model.LiveTrainStatus{
			ID:             tripTrainID(entity, tu),
			Name:           tu.GetTrip().GetRouteId(),
			PlatformNumber: platform,
			EventType:      model.EventArrival,
			ExpectedTime:   "N/A",
		}
		ev := call.GetArrival()
		if ev == nil {
			ev = call.GetDeparture()
			row.EventType = model.EventDeparture
		}
		if ev != nil {
			if ev.Time != nil {
				row.ExpectedTime = time.Unix(ev.GetTime(), 0).In(s.Location).Format(model.ClockLayout)
			}
			row.DelayMinutes = int(ev.GetDelay()) / 60
		}
		if idx > 0 {
			row.LastLocation, _ = splitStop(stops[idx-1].GetStopId())
		} else {
			row.LastLocation = station
		}
		if last := len(stops) - 1; last > idx {
			row.Destination, _ = splitStop(stops[last].GetStopId())
		}
		out = append(out, row)
	}
	return out
}

func tripTrainID(entity *gtfs.FeedEntity, tu *gtfs.TripUpdate) string {
	if label := tu.GetVehicle().GetLabel(); label != "" {
		return label
	}
	if id := tu.GetTrip().GetTripId(); id != "" {
		return id
	}
	return entity.GetId()
}

func splitStop(stopID string) (station, platform string) {
	stopID = strings.ToUpper(strings.TrimSpace(stopID))
	if i := strings.IndexByte(stopID, ':'); i >= 0 {
		return stopID[:i], stopID[i+1:]
	}
	return stopID, ""
}
