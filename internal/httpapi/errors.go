package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/control"
	"github.com/signalsfoundry/saarathi/internal/layouts"
	"github.com/signalsfoundry/saarathi/internal/planning"
	"github.com/signalsfoundry/saarathi/internal/state"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, control.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrUnknownStation),
		errors.Is(err, layouts.ErrNoLayout),
		errors.Is(err, state.ErrRuleNotFound),
		errors.Is(err, planning.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrNoStation),
		errors.Is(err, planning.ErrSuperseded),
		errors.Is(err, state.ErrStaleStation):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoFeasiblePlan),
		errors.Is(err, core.ErrCapacityViolation),
		errors.Is(err, core.ErrOverrideInfeasible),
		errors.Is(err, core.ErrHaltNotSatisfied):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrPlanTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrUpstreamFeedUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, statusFor(err), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: string(core.CodeOf(err))}
	var ce *core.Error
	if errors.As(err, &ce) {
		resp.Details = map[string]any{}
		if ce.TrainID != "" {
			resp.Details["train_id"] = ce.TrainID
		}
		if ce.Resource != "" {
			resp.Details["resource"] = ce.Resource
		}
		if len(resp.Details) == 0 {
			resp.Details = nil
		}
	}
	writeJSON(w, status, resp)
}
