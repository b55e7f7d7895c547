package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"fraud-serving/internal/storage"
	"fraud-serving/internal/txn"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	formatCSV   = "csv"
	formatJSONL = "jsonl"
)

var csvHeader = []string{
	"id", "predicted_at", "is_fraud",
	"time_ind", "transac_type", "amount",
	"src_acc", "src_bal", "src_new_bal",
	"dst_acc", "dst_bal", "dst_new_bal",
}

type exportOptions struct {
	format    string
	output    string
	fraudOnly bool
	since     time.Duration
}

func newExportCommand() *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored predictions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.format != formatCSV && opts.format != formatJSONL {
				return fmt.Errorf("unknown format %q (want csv or jsonl)", opts.format)
			}

			c, err := loadSettings()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			store, err := openStore(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if opts.output != "" && opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			n, err := exportRecords(cmd.Context(), store, out, opts, time.Now())
			if err != nil {
				return err
			}
			log.Info().Int("records", n).Str("format", opts.format).Msg("Export complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", formatCSV, "output format: csv or jsonl")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&opts.fraudOnly, "fraud-only", false, "only export transactions predicted as fraud")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "only export predictions newer than this (0 for all)")

	return cmd
}

// exportRecords writes the store's records to w and returns how many were
// written.
func exportRecords(ctx context.Context, store storage.Store, w io.Writer, opts exportOptions, now time.Time) (int, error) {
	records, err := store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list predictions: %w", err)
	}

	var cutoff time.Time
	if opts.since > 0 {
		cutoff = now.Add(-opts.since)
	}

	selected := records[:0]
	for _, rec := range records {
		if opts.fraudOnly && !rec.IsFraud {
			continue
		}
		if !cutoff.IsZero() && rec.PredictedAt.Before(cutoff) {
			continue
		}
		selected = append(selected, rec)
	}

	switch opts.format {
	case formatJSONL:
		enc := json.NewEncoder(w)
		for _, rec := range selected {
			if err := enc.Encode(rec); err != nil {
				return 0, fmt.Errorf("write record %d: %w", rec.ID, err)
			}
		}
	default:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return 0, fmt.Errorf("write header: %w", err)
		}
		for _, rec := range selected {
			if err := cw.Write(csvRow(rec)); err != nil {
				return 0, fmt.Errorf("write record %d: %w", rec.ID, err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return 0, fmt.Errorf("flush csv: %w", err)
		}
	}
	return len(selected), nil
}

func csvRow(rec txn.Record) []string {
	return []string{
		strconv.FormatInt(rec.ID, 10),
		rec.PredictedAt.UTC().Format(time.RFC3339Nano),
		strconv.FormatBool(rec.IsFraud),
		strconv.FormatInt(rec.TimeIndex, 10),
		rec.Type,
		rec.Amount.String(),
		rec.SourceAccount,
		rec.SourceBalanceBefore.String(),
		rec.SourceBalanceAfter.String(),
		rec.DestinationAccount,
		rec.DestinationBalanceBefore.String(),
		rec.DestinationBalanceAfter.String(),
	}
}
