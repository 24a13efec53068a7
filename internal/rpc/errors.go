package rpc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/control"
	"github.com/signalsfoundry/saarathi/internal/layouts"
	"github.com/signalsfoundry/saarathi/internal/planning"
	"github.com/signalsfoundry/saarathi/internal/state"
)

const errorDomain = "saarathi"

// ToStatusError maps controller, state and planning errors onto gRPC
// status codes. Taxonomy errors carry their code as an ErrorInfo reason.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, control.ErrInvalidRequest):
		code = codes.InvalidArgument

	case errors.Is(err, state.ErrUnknownStation),
		errors.Is(err, layouts.ErrNoLayout),
		errors.Is(err, state.ErrRuleNotFound),
		errors.Is(err, planning.ErrPlanNotFound):
		code = codes.NotFound

	case errors.Is(err, state.ErrNoStation),
		errors.Is(err, core.ErrNoFeasiblePlan),
		errors.Is(err, core.ErrCapacityViolation),
		errors.Is(err, core.ErrOverrideInfeasible),
		errors.Is(err, core.ErrHaltNotSatisfied):
		code = codes.FailedPrecondition

	case errors.Is(err, planning.ErrSuperseded),
		errors.Is(err, state.ErrStaleStation):
		code = codes.Aborted

	case errors.Is(err, core.ErrPlanTimeout),
		errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded

	case errors.Is(err, core.ErrUpstreamFeedUnavailable):
		code = codes.Unavailable

	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}

	st := status.New(code, err.Error())
	if tc := core.CodeOf(err); tc != "" {
		if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: string(tc), Domain: errorDomain}); derr == nil {
			st = detailed
		}
	}
	return st.Err()
}

// TaxonomyCode extracts the planning taxonomy code from a status error
// produced by ToStatusError.
func TaxonomyCode(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info.GetReason()
		}
	}
	return ""
}
