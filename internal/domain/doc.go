// Package domain models environmental observations synchronized for managed land parcels.
//
// # Data Source
//
// Observations come from an agronomic monitoring API that works on registered
// polygons. A parcel boundary is registered once (POST /polygons) and the
// returned polygon id is used for every later call:
//
//	GET /image/search?polyid=&start=&end=   satellite scenes for a time window
//	GET <stats url>                         per-scene index statistics (ndvi, ndwi, ...)
//	GET /weather?polyid=                    current weather
//	GET /soil?polyid=                       soil temperature and moisture
//
// # Upstream Conventions
//
// Timestamps:
//
//	"dt" is a unix timestamp in seconds. The measurement date of a record is
//	the UTC calendar date of dt, so several scenes on one day collapse into a
//	single record and the last one written wins.
//
// Units:
//
//	Temperatures are Kelvin and are stored in Celsius rounded to 0.01.
//	Satellite "cl" and weather "clouds.all" are percentages and are stored
//	as a fraction in [0, 1].
//	Soil moisture is volumetric (m3/m3) and stored as-is.
//	Polygon area is reported in hectares; the centre is [lon, lat].
//
// Satellite sources:
//
//	"Landsat 8" → l8, "Sentinel-2" → s2. Imagery is referenced by URL and never fetched.
//
// # Record Identity
//
// A record is identified by (polygon, category, measured date). Writes are
// upserts on that key so replaying a sync is idempotent, and history queries
// return at most one record per day.
package domain
