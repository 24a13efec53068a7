package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/signalsfoundry/saarathi/model"
)

// DefaultRailRadarURL is the RailRadar API base.
const DefaultRailRadarURL = "https://api.railradar.com/v1"

// RailRadarSource reads the live board from the RailRadar JSON API:
// GET {BaseURL}/stations/{code}/live with a bearer API key.
type RailRadarSource struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewRailRadarSource builds a source; an empty baseURL selects the public
// endpoint.
func NewRailRadarSource(baseURL, apiKey string, client *http.Client) *RailRadarSource {
	if baseURL == "" {
		baseURL = DefaultRailRadarURL
	}
	return &RailRadarSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  defaultClient(client),
	}
}

// Name implements Source.
func (s *RailRadarSource) Name() string { return "railradar" }

type railRadarResponse struct {
	Trains []railRadarTrain `json:"trains"`
}

type railRadarTrain struct {
	TrainNumber      string                `json:"train_number"`
	TrainName        string                `json:"train_name"`
	TrainType        string                `json:"train_type"`
	EventType        string                `json:"event_type"`
	ExpectedTime     string                `json:"expected_time"`
	DelayMinutes     int                   `json:"delay_minutes"`
	PlatformNumber   flexString            `json:"platform_number"`
	LastLocation     string                `json:"last_location"`
	FinalDestination string                `json:"final_destination"`
	LengthCoaches    int                   `json:"length_coaches"`
	ScheduledHalts   []model.ScheduledHalt `json:"scheduled_halts"`
}

// Fetch implements Source.
func (s *RailRadarSource) Fetch(ctx context.Context, station string) ([]model.LiveTrainStatus, error) {
	endpoint := fmt.Sprintf("%s/stations/%s/live", s.BaseURL, url.PathEscape(strings.ToUpper(station)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, unavailable(s.Name(), station, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, unavailable(s.Name(), station, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, unavailable(s.Name(), station, fmt.Errorf("%w %d", ErrBadStatus, resp.StatusCode))
	}

	var payload railRadarResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, unavailable(s.Name(), station, fmt.Errorf("decode response: %w", err))
	}

	out := make([]model.LiveTrainStatus, 0, len(payload.Trains))
	for _, t := range payload.Trains {
		out = append(out, model.LiveTrainStatus{
			ID:             t.TrainNumber,
			Name:           t.TrainName,
			Type:           t.TrainType,
			LastLocation:   t.LastLocation,
			Destination:    t.FinalDestination,
			ExpectedTime:   t.ExpectedTime,
			DelayMinutes:   t.DelayMinutes,
			PlatformNumber: string(t.PlatformNumber),
			EventType:      model.EventType(strings.ToUpper(t.EventType)),
			LengthCoaches:  t.LengthCoaches,
			ScheduledHalts: t.ScheduledHalts,
		})
	}
	return out, nil
}

// flexString accepts a JSON string or number; platform numbers arrive as
// either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("platform_number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}
