package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/go-chi/chi/v5"
)

const maxRequestBody = 1 << 20

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	if err := req.Validate(); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	switch req.Action {
	case domain.ActionSyncAll:
		summary, err := s.deps.Syncer.SyncAll(r.Context())
		if err != nil {
			s.logger.Error("sync all request failed", "error", err, "run_id", summary.RunID)
			writeFailure(w, syncStatus(err), err.Error(), summary)
			return
		}
		writeJSON(w, http.StatusOK, domain.SyncResponse{Success: true, Data: summary})
	default:
		result, err := s.deps.Syncer.SyncParcel(r.Context(), req.Parcel())
		if err != nil {
			s.logger.Warn("sync request failed", "parcel_id", req.ParcelID, "error", err)
			writeFailure(w, syncStatus(err), err.Error(), result)
			return
		}
		writeJSON(w, http.StatusOK, domain.SyncResponse{Success: true, Data: result})
	}
}

// syncStatus maps a sync error to a response status: 503 when no upstream
// endpoint could be resolved, 502 for any other upstream-side failure.
func syncStatus(err error) int {
	if errors.Is(err, domain.ErrEndpointUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func (s *Server) handlePolygon(w http.ResponseWriter, r *http.Request) {
	poly, ok := s.lookupPolygon(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, domain.SyncResponse{Success: true, Data: poly})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	c, err := domain.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	poly, ok := s.lookupPolygon(w, r)
	if !ok {
		return
	}

	rec, err := s.deps.Records.Latest(r.Context(), poly.UpstreamID, c)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "no "+string(c)+" records for parcel "+poly.ParcelID, nil)
	case err != nil:
		s.logger.Error("latest record query failed", "parcel_id", poly.ParcelID, "category", c, "error", err)
		writeFailure(w, http.StatusInternalServerError, "query failed", nil)
	default:
		writeJSON(w, http.StatusOK, domain.SyncResponse{Success: true, Data: rec})
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c, err := domain.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		since, err = domain.ParseDate(v)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}
	poly, ok := s.lookupPolygon(w, r)
	if !ok {
		return
	}

	recs, err := s.deps.Records.History(r.Context(), poly.UpstreamID, c, since)
	if err != nil {
		s.logger.Error("history query failed", "parcel_id", poly.ParcelID, "category", c, "error", err)
		writeFailure(w, http.StatusInternalServerError, "query failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, domain.SyncResponse{Success: true, Data: recs})
}

func (s *Server) lookupPolygon(w http.ResponseWriter, r *http.Request) (domain.Polygon, bool) {
	parcelID := chi.URLParam(r, "parcelID")
	poly, err := s.deps.Polygons.GetByParcelID(r.Context(), parcelID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "no polygon registered for parcel "+parcelID, nil)
		return domain.Polygon{}, false
	case err != nil:
		s.logger.Error("polygon lookup failed", "parcel_id", parcelID, "error", err)
		writeFailure(w, http.StatusInternalServerError, "query failed", nil)
		return domain.Polygon{}, false
	}
	return poly, true
}

type endpointStatus struct {
	Resolved   bool       `json:"resolved"`
	BaseURL    string     `json:"base_url,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Failures   []string   `json:"failures,omitempty"`
}

func (s *Server) handleUpstream(w http.ResponseWriter, _ *http.Request) {
	ep, ok := s.deps.Upstream.Endpoint()
	status := endpointStatus{Resolved: ok}
	if ok {
		status.BaseURL = ep.BaseURL
		status.ResolvedAt = &ep.ResolvedAt
	}
	writeJSON(w, http.StatusOK, domain.SyncResponse{Success: true, Data: status})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	base, err := s.deps.Upstream.Refresh(r.Context())
	if err != nil {
		status := endpointStatus{}
		var unavailable *domain.EndpointUnavailableError
		if errors.As(err, &unavailable) {
			status.Failures = unavailable.Reasons()
		}
		writeFailure(w, http.StatusServiceUnavailable, err.Error(), status)
		return
	}

	status := endpointStatus{Resolved: true, BaseURL: base}
	if ep, ok := s.deps.Upstream.Endpoint(); ok {
		status.ResolvedAt = &ep.ResolvedAt
	}
	s.logger.Info("upstream endpoint re-resolved", "base_url", base)
	writeJSON(w, http.StatusOK, domain.SyncResponse{Success: true, Data: status})
}

func writeFailure(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, domain.SyncResponse{Success: false, Data: data, Error: msg})
}
