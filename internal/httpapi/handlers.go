package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/signalsfoundry/saarathi/internal/control"
	"github.com/signalsfoundry/saarathi/internal/planning"
	"github.com/signalsfoundry/saarathi/model"
)

const maxBodyBytes = 1 << 20

type selectStationRequest struct {
	Code string `json:"code" validate:"required,alphanum,max=8"`
}

type approveRequest struct {
	TrainID string `json:"train_id" validate:"required"`
}

type rulesResponse struct {
	Rules       []control.RuleView `json:"rules"`
	Description string             `json:"description"`
}

type importResponse struct {
	Rules    []control.RuleView `json:"rules"`
	Override string             `json:"override,omitempty"`
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func (a *api) decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: decode body: %v", control.ErrInvalidRequest, err)
	}
	if err := a.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", control.ErrInvalidRequest, err)
	}
	return nil
}

func (a *api) listStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stations": a.ctl.Stations()})
}

func (a *api) activeStation(w http.ResponseWriter, r *http.Request) {
	st, err := a.ctl.ActiveStation()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"station": st})
}

func (a *api) selectStation(w http.ResponseWriter, r *http.Request) {
	var req selectStationRequest
	if err := a.decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	st, err := a.ctl.SelectStation(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"station": st})
}

func (a *api) getBoard(w http.ResponseWriter, r *http.Request) {
	board, err := a.ctl.Board()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// refreshBoard answers a failed refresh with the degraded board and the
// upstream error status.
func (a *api) refreshBoard(w http.ResponseWriter, r *http.Request) {
	board, err := a.ctl.RefreshBoard(r.Context())
	if err != nil {
		if board.Station.Code == "" {
			writeError(w, err)
			return
		}
		writeJSON(w, statusFor(err), board)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (a *api) listRules(w http.ResponseWriter, r *http.Request) {
	rules, text, err := a.ctl.Rules()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rulesResponse{Rules: rules, Description: text})
}

func (a *api) addRule(w http.ResponseWriter, r *http.Request) {
	var env model.RuleEnvelope
	if err := a.decodeJSON(w, r, &env, false); err != nil {
		writeError(w, err)
		return
	}
	view, err := a.ctl.AddRule(r.Context(), env)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *api) removeRule(w http.ResponseWriter, r *http.Request) {
	if err := a.ctl.RemoveRule(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) clearRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": a.ctl.ClearRules(r.Context())})
}

func (a *api) importScenario(w http.ResponseWriter, r *http.Request) {
	src, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("read scenario: %w", err))
		return
	}
	added, override, err := a.ctl.ImportScenario(r.Context(), src)
	if err != nil {
		writeError(w, err)
		return
	}
	if added == nil {
		added = []control.RuleView{}
	}
	writeJSON(w, http.StatusCreated, importResponse{Rules: added, Override: override})
}

func (a *api) exportScenario(w http.ResponseWriter, r *http.Request) {
	out, err := a.ctl.ExportScenario()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="scenario.hcl"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (a *api) lastPlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := a.ctl.LastPlan()
	if !ok {
		writeErrorStatus(w, http.StatusNotFound, fmt.Errorf("%w: no plan generated yet", planning.ErrPlanNotFound))
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *api) generatePlan(w http.ResponseWriter, r *http.Request) {
	var in control.PlanInput
	if err := a.decodeJSON(w, r, &in, true); err != nil {
		writeError(w, err)
		return
	}
	plan, err := a.ctl.Plan(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *api) approvePlan(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := a.decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	planID := chi.URLParam(r, "planID")
	if err := a.ctl.Approve(r.Context(), planID, req.TrainID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan_id": planID, "train_id": req.TrainID, "approved": true})
}

func (a *api) predict(w http.ResponseWriter, r *http.Request) {
	var in control.PlanInput
	if err := a.decodeJSON(w, r, &in, true); err != nil {
		writeError(w, err)
		return
	}
	pred, err := a.ctl.Predict(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (a *api) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be a non-negative integer", control.ErrInvalidRequest))
			return
		}
		limit = n
	}
	events, err := a.ctl.AuditTrail(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
