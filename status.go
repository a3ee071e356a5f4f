package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage reachability and configuration",
		Long: `Probe the storage bucket and report reachability, the health gate's view
of the network after the probe, and the effective upload configuration.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

type statusReport struct {
	StorageURL      string `json:"storage_url"`
	Bucket          string `json:"bucket"`
	BucketReachable bool   `json:"bucket_reachable"`
	BucketError     string `json:"bucket_error,omitempty"`
	NetworkHealthy  bool   `json:"network_healthy"`
	FailureRate     string `json:"failure_rate"`
	AvgResponseTime string `json:"avg_response_time"`
	OrganizationID  string `json:"organization_id,omitempty"`
	UserID          string `json:"user_id,omitempty"`
	ParallelUploads int    `json:"parallel_uploads"`
	CatalogPath     string `json:"catalog_path,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	env, err := newIngestEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	report := statusReport{
		StorageURL:      env.cfg.Storage.URL,
		Bucket:          env.store.Bucket(),
		OrganizationID:  env.cfg.Ingest.OrganizationID,
		UserID:          env.cfg.Ingest.UserID,
		ParallelUploads: env.cfg.Ingest.ParallelUploads,
		CatalogPath:     env.cfg.Catalog.Path,
	}

	if flagOrg != "" {
		report.OrganizationID = flagOrg
	}

	if flagUser != "" {
		report.UserID = flagUser
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	exists, err := env.store.BucketExists(ctx)
	report.BucketReachable = exists

	if err != nil {
		report.BucketError = err.Error()
	}

	report.NetworkHealthy = env.health.Healthy()
	report.FailureRate = formatPercent(env.health.FailureRate())
	report.AvgResponseTime = env.health.AvgResponseTime().Round(time.Millisecond).String()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printStatus(report)

	return nil
}

func printStatus(r statusReport) {
	reachability := "unreachable"
	if r.BucketReachable {
		reachability = "reachable"
	}

	rows := [][]string{
		{"Bucket", r.Bucket + " (" + reachability + ")"},
		{"Network healthy", boolWord(r.NetworkHealthy)},
		{"Failure rate", r.FailureRate},
		{"Avg response time", r.AvgResponseTime},
		{"Organization", orDash(r.OrganizationID)},
		{"User", orDash(r.UserID)},
		{"Parallel uploads", fmt.Sprintf("%d", r.ParallelUploads)},
		{"Catalog", orDash(r.CatalogPath)},
	}

	printColumns(os.Stdout, []string{"Storage URL", r.StorageURL}, rows)

	if r.BucketError != "" {
		statusf("\nBucket probe error: %s\n", r.BucketError)
	}
}

func boolWord(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func formatPercent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}
