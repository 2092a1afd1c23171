package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"rail_router/pkg/infra"
	"rail_router/pkg/pathfinding"
	"rail_router/pkg/rollingstock"
	"rail_router/pkg/routing"
)

const maxBodyBytes = 1 << 20

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	router routing.Router
	stats  StatsResponse
}

// NewHandlers creates handlers with the given router.
func NewHandlers(router routing.Router, stats StatsResponse) *Handlers {
	return &Handlers{
		router: router,
		stats:  stats,
	}
}

// HandleRoutes handles POST /api/v1/pathfinding/routes.
func (h *Handlers) HandleRoutes(w http.ResponseWriter, r *http.Request) {
	var req RoutesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rreq, err := req.ToRouting()
	if err != nil {
		writeResponse(w, r, http.StatusBadRequest, ErrorResponse(err))
		return
	}
	res, err := h.router.Routes(r.Context(), rreq)
	if err != nil {
		writeResponse(w, r, HTTPStatus(err), ErrorResponse(err))
		return
	}
	writeResponse(w, r, http.StatusOK, Response{Status: StatusSuccess, Routes: NewRoutesJSON(res)})
}

// HandleSTDCM handles POST /api/v1/stdcm.
func (h *Handlers) HandleSTDCM(w http.ResponseWriter, r *http.Request) {
	var req STDCMRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sreq, err := req.ToRouting()
	if err != nil {
		writeResponse(w, r, http.StatusBadRequest, ErrorResponse(err))
		return
	}
	res, err := h.router.STDCM(r.Context(), sreq)
	if err != nil {
		writeResponse(w, r, HTTPStatus(err), ErrorResponse(err))
		return
	}
	writeResponse(w, r, http.StatusOK, Response{Status: StatusSuccess, STDCM: NewSTDCMJSON(res)})
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.stats)
}

// decodeJSON enforces the content type and decodes the body into v. On
// failure it writes the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeResponse(w, r, http.StatusUnsupportedMediaType, errorResponse("invalid_request", "content type must be application/json", ""))
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeResponse(w, r, http.StatusBadRequest, errorResponse("invalid_request", err.Error(), ""))
		return false
	}
	return true
}

// ErrorResponse maps a request or search error to its response.
func ErrorResponse(err error) Response {
	var fe *FieldError
	switch {
	case errors.Is(err, routing.ErrNoPath):
		return Response{Status: StatusNoPath}
	case errors.As(err, &fe):
		return errorResponse("invalid_request", fe.Reason, fe.Field)
	case errors.Is(err, infra.ErrPointTooFar):
		return errorResponse("point_too_far_from_track", err.Error(), "coordinates")
	case errors.Is(err, rollingstock.ErrUnknownRollingStock):
		return errorResponse("unknown_rolling_stock", err.Error(), "rolling_stock")
	case errors.Is(err, infra.ErrUnknownTrack):
		return errorResponse("unknown_track", err.Error(), "track")
	case errors.Is(err, pathfinding.ErrInvalidInput):
		return errorResponse("invalid_request", err.Error(), "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorResponse("request_timeout", "", "")
	case errors.Is(err, pathfinding.ErrSearchLimit):
		return errorResponse("search_limit_reached", "", "")
	}
	return errorResponse("internal_error", "", "")
}

// HTTPStatus returns the status code for err.
func HTTPStatus(err error) int {
	var fe *FieldError
	switch {
	case errors.Is(err, routing.ErrNoPath):
		return http.StatusNotFound
	case errors.As(err, &fe):
		return http.StatusBadRequest
	case errors.Is(err, infra.ErrPointTooFar):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rollingstock.ErrUnknownRollingStock),
		errors.Is(err, infra.ErrUnknownTrack),
		errors.Is(err, pathfinding.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, pathfinding.ErrSearchLimit):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorResponse(code, msg, field string) Response {
	return Response{Status: StatusError, Error: &ErrorDetail{Code: code, Message: msg, Field: field}}
}

func writeResponse(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	resp.RequestID = routing.RequestID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
