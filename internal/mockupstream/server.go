// Package mockupstream serves a deterministic stand-in for the agro monitoring
// API: polygon registration, imagery search with per-index statistics,
// current weather, and soil. It backs local development and end-to-end tests.
package mockupstream

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
)

// BasePath is the API prefix served by the mock; candidates should end with it.
const BasePath = "/agro/1.0"

// Operation names accepted by FailWith.
const (
	OpPolygons = "polygons"
	OpImagery  = "imagery"
	OpStats    = "stats"
	OpWeather  = "weather"
	OpSoil     = "soil"
)

const sceneEvery = 5 * 24 * time.Hour

// Server is an in-memory upstream. Safe for concurrent use.
type Server struct {
	apiKey string
	clock  clockwork.Clock

	mu       sync.Mutex
	polygons map[string]domain.UpstreamPolygon
	order    []string
	seq      int
	failures map[string]int
	calls    map[string]int
}

// New creates a Server that accepts apiKey. A nil clock uses the wall clock.
func New(apiKey string, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Server{
		apiKey:   apiKey,
		clock:    clock,
		polygons: make(map[string]domain.UpstreamPolygon),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// FailWith makes every call to op answer with status until cleared with 0.
func (s *Server) FailWith(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, op)
		return
	}
	s.failures[op] = status
}

// Calls returns how many authorized requests op has received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// PolygonCount returns the number of registered polygons.
func (s *Server) PolygonCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.polygons)
}

// Handler returns the HTTP handler serving BasePath and the stats documents.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route(BasePath, func(r chi.Router) {
		r.Get("/polygons", s.guard(OpPolygons, s.listPolygons))
		r.Post("/polygons", s.guard(OpPolygons, s.createPolygon))
		r.Get("/polygons/{id}", s.guard(OpPolygons, s.getPolygon))
		r.Get("/image/search", s.guard(OpImagery, s.searchImagery))
		r.Get("/weather", s.guard(OpWeather, s.weather))
		r.Get("/soil", s.guard(OpSoil, s.soil))
	})
	r.Get("/stats/1.0/{polyID}/{dt}/{index}", s.guard(OpStats, s.stats))
	return r
}

// guard enforces the credential and any injected failure for op.
func (s *Server) guard(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != s.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"cod":     http.StatusUnauthorized,
				"message": "Invalid API key. Please see https://agromonitoring.com/faq for more info.",
			})
			return
		}

		s.mu.Lock()
		s.calls[op]++
		status := s.failures[op]
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]any{"cod": status, "message": http.StatusText(status)})
			return
		}
		next(w, r)
	}
}

func (s *Server) listPolygons(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]domain.UpstreamPolygon, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.polygons[id])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPolygon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	p, ok := s.polygons[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"cod": http.StatusNotFound, "message": "polygon not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createRequest struct {
	Name    string `json:"name"`
	GeoJSON struct {
		Type     string          `json:"type"`
		Geometry json.RawMessage `json:"geometry"`
	} `json:"geo_json"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (s *Server) createPolygon(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"cod": http.StatusBadRequest, "message": err.Error()})
		return
	}
	ring, err := outerRing(req.GeoJSON.Geometry)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"cod": http.StatusUnprocessableEntity, "message": err.Error()})
		return
	}
	lon, lat := centroid(ring)

	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("%024x", s.seq)
	p := domain.UpstreamPolygon{
		ID:        id,
		Name:      req.Name,
		GeoJSON:   req.GeoJSON.Geometry,
		Center:    []float64{lon, lat},
		Area:      areaHectares(ring),
		CreatedAt: s.clock.Now().Unix(),
	}
	s.polygons[id] = p
	s.order = append(s.order, id)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, p)
}

type scene struct {
	Dt    int64             `json:"dt"`
	Type  string            `json:"type"`
	DC    float64           `json:"dc"`
	CL    float64           `json:"cl"`
	Image map[string]string `json:"image"`
	Stats map[string]string `json:"stats"`
}

// searchImagery returns one scene every five days inside [start, end].
func (s *Server) searchImagery(w http.ResponseWriter, r *http.Request) {
	polyID := r.URL.Query().Get("polyid")
	if !s.known(polyID) {
		writeJSON(w, http.StatusNotFound, map[string]any{"cod": http.StatusNotFound, "message": "polygon not found"})
		return
	}
	start, errStart := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	end, errEnd := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
	if errStart != nil || errEnd != nil || end < start {
		writeJSON(w, http.StatusBadRequest, map[string]any{"cod": http.StatusBadRequest, "message": "invalid start/end"})
		return
	}

	host := "http://" + r.Host
	first := time.Unix(start, 0).UTC().Truncate(24 * time.Hour).Add(10*time.Hour + 30*time.Minute)
	scenes := []scene{}
	for t, i := first, 0; t.Unix() <= end; t, i = t.Add(sceneEvery), i+1 {
		if t.Unix() < start {
			continue
		}
		dt := t.Unix()
		typ := "Sentinel-2"
		if i%2 == 1 {
			typ = "Landsat 8"
		}
		stats := make(map[string]string, len(domain.TrackedIndices))
		for _, index := range domain.TrackedIndices {
			stats[index] = fmt.Sprintf("%s/stats/1.0/%s/%d/%s", host, polyID, dt, index)
		}
		scenes = append(scenes, scene{
			Dt:    dt,
			Type:  typ,
			DC:    100 - float64(i%3)*10,
			CL:    float64((i * 7) % 40),
			Image: map[string]string{"truecolor": fmt.Sprintf("%s/image/1.0/%s/%d/truecolor.png", host, polyID, dt)},
			Stats: stats,
		})
	}
	writeJSON(w, http.StatusOK, scenes)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	dt, err := strconv.ParseInt(chi.URLParam(r, "dt"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"cod": http.StatusBadRequest, "message": "invalid dt"})
		return
	}
	// A slow seasonal wave keeps values plausible and deterministic.
	phase := float64(dt%(365*86400)) / (365 * 86400) * 2 * math.Pi
	base := 0.45 + 0.25*math.Sin(phase)
	if chi.URLParam(r, "index") == "ndwi" {
		base = -0.1 + 0.15*math.Cos(phase)
	}
	writeJSON(w, http.StatusOK, domain.IndexStats{
		Mean:   round(base),
		Min:    round(base - 0.3),
		Max:    round(base + 0.3),
		Median: round(base + 0.01),
		Std:    0.08,
		Num:    5120,
	})
}

func (s *Server) weather(w http.ResponseWriter, r *http.Request) {
	if !s.known(r.URL.Query().Get("polyid")) {
		writeJSON(w, http.StatusNotFound, map[string]any{"cod": http.StatusNotFound, "message": "polygon not found"})
		return
	}
	now := s.clock.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"dt": now.Unix(),
		"weather": []map[string]any{
			{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"},
		},
		"main": map[string]float64{
			"temp":       293.15,
			"feels_like": 292.6,
			"temp_min":   291.4,
			"temp_max":   295.2,
			"pressure":   1014,
			"humidity":   62,
		},
		"wind":   map[string]float64{"speed": 3.6, "deg": 220},
		"clouds": map[string]float64{"all": 40},
		"rain":   map[string]float64{"1h": 0.4},
	})
}

func (s *Server) soil(w http.ResponseWriter, r *http.Request) {
	if !s.known(r.URL.Query().Get("polyid")) {
		writeJSON(w, http.StatusNotFound, map[string]any{"cod": http.StatusNotFound, "message": "polygon not found"})
		return
	}
	day := s.clock.Now().UTC().Truncate(24 * time.Hour)
	writeJSON(w, http.StatusOK, domain.SoilSnapshot{
		Dt:       day.Unix(),
		T0:       289.6,
		T10:      287.1,
		Moisture: 0.231,
	})
}

func (s *Server) known(polyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.polygons[polyID]
	return ok
}

// outerRing extracts the first ring of a Polygon or the first polygon of a MultiPolygon.
func outerRing(raw json.RawMessage) ([][2]float64, error) {
	var g geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	switch g.Type {
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil || len(rings) == 0 {
			return nil, fmt.Errorf("invalid polygon coordinates")
		}
		return validRing(rings[0])
	case "MultiPolygon":
		var polys [][][][2]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil || len(polys) == 0 || len(polys[0]) == 0 {
			return nil, fmt.Errorf("invalid multipolygon coordinates")
		}
		return validRing(polys[0][0])
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func validRing(ring [][2]float64) ([][2]float64, error) {
	if len(ring) < 4 {
		return nil, fmt.Errorf("ring needs at least 4 positions, got %d", len(ring))
	}
	return ring, nil
}

func centroid(ring [][2]float64) (lon, lat float64) {
	n := len(ring) - 1 // closing position repeats the first
	for _, p := range ring[:n] {
		lon += p[0]
		lat += p[1]
	}
	return round(lon / float64(n)), round(lat / float64(n))
}

// areaHectares applies the shoelace formula on an equirectangular projection.
func areaHectares(ring [][2]float64) float64 {
	_, lat0 := centroid(ring)
	kx := 111320 * math.Cos(lat0*math.Pi/180)
	const ky = 110540.0

	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		x1, y1 := ring[i][0]*kx, ring[i][1]*ky
		x2, y2 := ring[i+1][0]*kx, ring[i+1][1]*ky
		sum += x1*y2 - x2*y1
	}
	return round(math.Abs(sum) / 2 / 10000)
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
