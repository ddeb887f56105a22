package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailpost/billing/pkg/archive"
	"github.com/trailpost/billing/pkg/config"
)

const dateLayout = "2006-01-02"

func newReportCmd() *cobra.Command {
	var (
		from, to string
		upload   bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compute revenue and subscriber analytics for a date range",
		Long: `report aggregates active subscribers, revenue, churn and trial conversion
over [from, to). Without flags it reports the previous calendar month.

With --archive the report is also stored as JSON in the S3 bucket named by
ARCHIVE_S3_BUCKET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := reportRange(from, to, time.Now())
			if err != nil {
				return err
			}

			a, err := loadApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.reporter.GetAnalytics(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			if upload {
				cfg, err := config.Parse[archive.Config]()
				if err != nil {
					return err
				}
				store, err := archive.NewS3Archive(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				obj, err := a.reporter.Export(cmd.Context(), rep, store)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "archived to s3://%s/%s\n", cfg.Bucket, obj.Key)
			}
			return printOutput(cmd, rep)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first day of the range, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "day after the range, YYYY-MM-DD")
	cmd.Flags().BoolVar(&upload, "archive", false, "store the report in S3")
	return cmd
}

// reportRange parses the flags in UTC. A missing from starts the previous
// month of now; a missing to ends one month after from.
func reportRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	var start, end time.Time
	if from == "" {
		now = now.UTC()
		start = time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, time.UTC)
	} else {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return start, end, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}

	if to == "" {
		end = start.AddDate(0, 1, 0)
	} else {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return start, end, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	return start, end, nil
}
