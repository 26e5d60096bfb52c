package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/couchcryptid/field-env-sync/internal/app"
	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/spf13/cobra"
)

// phase tracks pass/fail for a verification phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func (c *cli) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check stored polygons and records for every known parcel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			phases, err := verify(cmd.Context(), c.app.Store)
			if err != nil {
				return err
			}
			if !report(cmd.OutOrStdout(), phases) {
				return errors.New("verification failed")
			}
			return nil
		},
	}
}

// verify runs every phase against the store. Only storage errors are returned;
// findings are collected in the phases.
func verify(ctx context.Context, store app.Store) ([]*phase, error) {
	catalogue, err := store.ListParcels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list parcels: %w", err)
	}
	registered, err := store.ListPolygons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list polygons: %w", err)
	}
	parcels := domain.KnownParcels(catalogue, registered)

	polygons := &phase{name: "Polygons registered"}
	coverage := &phase{name: "Category coverage"}
	values := &phase{name: "Field ranges"}

	for _, parcel := range parcels {
		poly, err := store.PolygonByParcel(ctx, parcel.ID)
		if errors.Is(err, domain.ErrNotFound) {
			polygons.errorf("parcel %s: no polygon", parcel.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if poly.NeedsBackfill() {
			polygons.errorf("parcel %s: polygon %s has no area or centroid", parcel.ID, poly.UpstreamID)
		}

		for _, c := range domain.Categories {
			rec, err := store.Latest(ctx, poly.UpstreamID, c)
			if errors.Is(err, domain.ErrNotFound) {
				coverage.errorf("parcel %s: no %s records", parcel.ID, c)
				continue
			}
			if err != nil {
				return nil, err
			}
			checkRecord(values, parcel.ID, rec)
		}
	}
	return []*phase{polygons, coverage, values}, nil
}

// checkRecord flags values outside their physical range.
func checkRecord(p *phase, parcelID string, rec domain.EnvironmentalRecord) {
	inRange := func(field string, lo, hi float64) {
		v, ok := rec.Fields[field]
		if !ok {
			p.errorf("parcel %s %s %s: missing %s", parcelID, rec.Category, rec.MeasuredOn.Format("2006-01-02"), field)
			return
		}
		if math.IsNaN(v) || v < lo || v > hi {
			p.errorf("parcel %s %s %s: %s=%v outside [%v, %v]", parcelID, rec.Category, rec.MeasuredOn.Format("2006-01-02"), field, v, lo, hi)
		}
	}

	switch rec.Category {
	case domain.CategorySatellite:
		for _, index := range domain.TrackedIndices {
			if _, ok := rec.Fields[index+"_mean"]; ok {
				inRange(index+"_mean", -1, 1)
			}
		}
	case domain.CategoryWeatherCurrent:
		inRange("temperature_c", -90, 60)
		inRange("humidity_pct", 0, 100)
	case domain.CategorySoil:
		inRange("moisture", 0, 1)
		inRange("surface_temperature_c", -90, 80)
	}

	if rec.CloudCoverage != nil && (*rec.CloudCoverage < 0 || *rec.CloudCoverage > 1) {
		p.errorf("parcel %s %s: cloud coverage %v outside [0, 1]", parcelID, rec.Category, *rec.CloudCoverage)
	}
}

// report prints a phase summary followed by detailed findings. Returns true if all passed.
func report(w io.Writer, phases []*phase) bool {
	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-24s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}
	return allPassed
}
