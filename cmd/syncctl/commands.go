package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/domain"
	"github.com/spf13/cobra"
)

func (c *cli) newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Probe the candidate upstream endpoints and print the live one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.app.Resolver.Refresh(cmd.Context()); err != nil {
				var unavailable *domain.EndpointUnavailableError
				if errors.As(err, &unavailable) {
					for _, reason := range unavailable.Reasons() {
						fmt.Fprintln(cmd.ErrOrStderr(), reason)
					}
				}
				return err
			}
			ep, _ := c.app.Resolver.Endpoint()
			return c.print(ep)
		},
	}
}

func (c *cli) newSyncCmd() *cobra.Command {
	var (
		name         string
		geometryFile string
	)
	cmd := &cobra.Command{
		Use:   "sync PARCEL_ID",
		Short: "Sync every category for one parcel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.SyncRequest{Action: domain.ActionSyncOne, ParcelID: args[0], Name: name}
			if geometryFile != "" {
				data, err := os.ReadFile(geometryFile)
				if err != nil {
					return fmt.Errorf("read geometry: %w", err)
				}
				req.Geometry = data
			}
			if err := req.Validate(); err != nil {
				return err
			}

			res, err := c.app.Orchestrator.SyncParcel(cmd.Context(), req.Parcel())
			if printErr := c.print(res); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "polygon name used if the parcel must be registered")
	cmd.Flags().StringVar(&geometryFile, "geometry-file", "", "GeoJSON Polygon or MultiPolygon geometry for a new parcel")
	return cmd
}

func (c *cli) newSyncAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "Sync every known parcel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.app.Orchestrator.SyncAll(cmd.Context())
			if printErr := c.print(summary); printErr != nil {
				return printErr
			}
			return err
		},
	}
}

func (c *cli) newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest PARCEL_ID CATEGORY",
		Short: "Print the most recent record of a category for a parcel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := domain.ParseCategory(args[1])
			if err != nil {
				return err
			}
			poly, err := c.app.Registry.GetByParcelID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("parcel %s: %w", args[0], err)
			}
			rec, err := c.app.Store.Latest(cmd.Context(), poly.UpstreamID, category)
			if err != nil {
				return err
			}
			return c.print(rec)
		},
	}
}

func (c *cli) newHistoryCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "history PARCEL_ID CATEGORY",
		Short: "Print records of a category for a parcel in date order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := domain.ParseCategory(args[1])
			if err != nil {
				return err
			}
			var from time.Time
			if since != "" {
				if from, err = domain.ParseDate(since); err != nil {
					return err
				}
			}
			poly, err := c.app.Registry.GetByParcelID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("parcel %s: %w", args[0], err)
			}
			recs, err := c.app.Store.History(cmd.Context(), poly.UpstreamID, category, from)
			if err != nil {
				return err
			}
			return c.print(recs)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "earliest measurement date, YYYY-MM-DD")
	return cmd
}
