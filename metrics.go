package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/monitor"
	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/upload"
)

const defaultMetricsAddr = "localhost:8971"

var (
	flagMetricsFetchAddr string
	flagMetricsServe     string
)

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show in-flight and failed upload metrics",
		Long: `Fetch the upload metrics snapshot from a running watcher and print it.

With --serve, instead run a standalone metrics server exposing this process's
ledger snapshot and websocket feed until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runMetrics,
	}

	cmd.Flags().StringVar(&flagMetricsFetchAddr, "addr", defaultMetricsAddr, "address of a running watcher's metrics server")
	cmd.Flags().StringVar(&flagMetricsServe, "serve", "", "serve metrics on this address instead of fetching")

	return cmd
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	if flagMetricsServe != "" {
		env, err := newIngestEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := shutdownContext(cmd.Context(), env.logger, nil)
		srv := monitor.NewServer(env.orch, 0, env.logger)

		statusf("Serving metrics on %s\n", flagMetricsServe)

		return srv.Serve(ctx, flagMetricsServe)
	}

	records, err := fetchMetrics(flagMetricsFetchAddr)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(records)
	}

	if len(records) == 0 {
		statusf("No uploads in flight and no recorded failures.\n")

		return nil
	}

	printMetricsTable(records)

	return nil
}

func fetchMetrics(addr string) ([]upload.AttemptRecord, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get("http://" + addr + "/metrics")
	if err != nil {
		return nil, fmt.Errorf("fetching metrics from %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching metrics from %s: unexpected status %d", addr, resp.StatusCode)
	}

	var records []upload.AttemptRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding metrics response: %w", err)
	}

	return records, nil
}

func printMetricsTable(records []upload.AttemptRecord) {
	headers := []string{"FILE", "SIZE", "RETRIES", "NETWORK", "STARTED", "STATE", "LAST ERROR"}
	rows := make([][]string, 0, len(records))

	for _, rec := range records {
		state := "in flight"
		if rec.EndedAt != nil {
			state = "failed"
		}

		lastErr := ""
		if len(rec.ErrorHistory) > 0 {
			lastErr = truncateError(rec.ErrorHistory[len(rec.ErrorHistory)-1])
		}

		rows = append(rows, []string{
			rec.FileName,
			formatSize(rec.FileSizeBytes),
			fmt.Sprintf("%d", rec.RetryCount),
			rec.NetworkCondition.String(),
			formatTime(rec.StartedAt),
			state,
			lastErr,
		})
	}

	printColumns(os.Stdout, headers, rows)
}
