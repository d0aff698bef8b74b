package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/tasktrack/internal/api/shared"
	"github.com/phrazzld/tasktrack/internal/domain"
	"github.com/phrazzld/tasktrack/internal/service"
	"github.com/phrazzld/tasktrack/internal/store"
)

// dateLayout is the accepted format of start_date and end_date when they
// are not full RFC 3339 timestamps.
const dateLayout = "2006-01-02"

// getPathID extracts a positive task ID from the URL path parameters.
func getPathID(r *http.Request, paramName string) (int64, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return 0, domain.NewValidationError(paramName, "is required", domain.ErrValidation)
	}

	id, err := strconv.ParseInt(pathParam, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(paramName, "must be a positive integer", domain.ErrInvalidID)
	}

	return id, nil
}

// requirePrincipal returns the authenticated caller or writes a 401.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		HandleAPIError(w, r, service.ErrUnauthenticated, "")
		return domain.Principal{}, false
	}
	return principal, true
}

// parseStatusParam reads an optional status filter.
func parseStatusParam(r *http.Request) (*domain.TaskStatus, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}
	status, err := domain.ParseTaskStatus(raw)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// parseIntParam reads an optional non-negative integer query parameter.
func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer", domain.ErrValidation)
	}
	return n, nil
}

// parseDateParam reads an optional RFC 3339 timestamp or plain date. A plain
// end date covers the whole day.
func parseDateParam(r *http.Request, name string, endOfDay bool) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, domain.NewValidationError(name, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp", domain.ErrValidation)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

// parseListRequest builds the service list request from query parameters.
func parseListRequest(r *http.Request) (service.ListTasksRequest, error) {
	var req service.ListTasksRequest
	var err error

	if req.Status, err = parseStatusParam(r); err != nil {
		return req, err
	}
	if req.CreatedAfter, err = parseDateParam(r, "start_date", false); err != nil {
		return req, err
	}
	if req.CreatedBefore, err = parseDateParam(r, "end_date", true); err != nil {
		return req, err
	}
	if req.Order, err = store.ParseOrdering(r.URL.Query().Get("ordering")); err != nil {
		return req, err
	}
	if req.Limit, err = parseIntParam(r, "limit"); err != nil {
		return req, err
	}
	if req.Offset, err = parseIntParam(r, "offset"); err != nil {
		return req, err
	}
	req.Search = r.URL.Query().Get("search")

	return req, nil
}
