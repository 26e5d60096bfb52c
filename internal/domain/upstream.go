package domain

import "encoding/json"

// UpstreamPolygon is a polygon as registered with the upstream API.
type UpstreamPolygon struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	GeoJSON   json.RawMessage `json:"geo_json,omitempty"`
	Center    []float64       `json:"center"` // [lon, lat]
	Area      float64         `json:"area"`   // hectares
	CreatedAt int64           `json:"created_at"`
}

// SatelliteScene is one imagery search hit.
type SatelliteScene struct {
	Dt    int64             `json:"dt"`
	Type  string            `json:"type"`
	DC    float64           `json:"dc"` // valid data coverage, percent
	CL    float64           `json:"cl"` // cloud coverage, percent
	Image map[string]string `json:"image"`
	Stats map[string]string `json:"stats"`

	Raw json.RawMessage `json:"-"`
}

// IndexStats is the per-scene statistics document for one vegetation index.
type IndexStats struct {
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Num    int     `json:"num"`
}

// CurrentWeather is the upstream current-conditions payload. Temperatures are Kelvin.
type CurrentWeather struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Pressure  float64 `json:"pressure"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Clouds *struct {
		All float64 `json:"all"`
	} `json:"clouds,omitempty"`
	Rain map[string]float64 `json:"rain,omitempty"`
	Snow map[string]float64 `json:"snow,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// SoilSnapshot is the upstream soil payload. Temperatures are Kelvin.
type SoilSnapshot struct {
	Dt       int64   `json:"dt"`
	T0       float64 `json:"t0"`
	T10      float64 `json:"t10"`
	Moisture float64 `json:"moisture"`

	Raw json.RawMessage `json:"-"`
}

// TrackedIndices are the vegetation indices whose statistics are stored.
var TrackedIndices = []string{"ndvi", "ndwi"}

// UnmarshalJSON decodes the scene and keeps the verbatim payload in Raw.
func (s *SatelliteScene) UnmarshalJSON(b []byte) error {
	type plain SatelliteScene
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = SatelliteScene(p)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// UnmarshalJSON decodes the weather payload and keeps the verbatim payload in Raw.
func (w *CurrentWeather) UnmarshalJSON(b []byte) error {
	type plain CurrentWeather
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*w = CurrentWeather(p)
	w.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// UnmarshalJSON decodes the soil payload and keeps the verbatim payload in Raw.
func (s *SoilSnapshot) UnmarshalJSON(b []byte) error {
	type plain SoilSnapshot
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = SoilSnapshot(p)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}
