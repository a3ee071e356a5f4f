package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagHistoryLimit int
	flagHistorySign  bool
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List documents ingested for an organization",
		Long: `List catalog entries for previously ingested documents, newest first.

The catalog records only verified uploads, so every entry here corresponds
to an object that existed in the bucket at ingestion time. With --sign,
each entry gets a fresh time-limited signed URL (lifetime from
storage.signed_url_ttl).`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().IntVar(&flagHistoryLimit, "limit", 0, "show at most this many entries (0 = all)")
	cmd.Flags().BoolVar(&flagHistorySign, "sign", false, "emit a signed URL per entry")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	env, err := newIngestEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if env.catalog == nil {
		return fmt.Errorf("catalog disabled: set catalog.path in the config file")
	}

	org, _, err := env.owner()
	if err != nil {
		return err
	}

	docs, err := env.catalog.List(cmd.Context(), org)
	if err != nil {
		return err
	}

	if flagHistoryLimit > 0 && len(docs) > flagHistoryLimit {
		docs = docs[:flagHistoryLimit]
	}

	if flagHistorySign {
		ttl, ttlErr := env.cfg.SignedURLTTL()
		if ttlErr != nil {
			return fmt.Errorf("parsing signed URL TTL: %w", ttlErr)
		}

		for i := range docs {
			signed, signErr := env.store.SignedURL(cmd.Context(), docs[i].StoragePath, ttl)
			if signErr != nil {
				return fmt.Errorf("signing URL for %s: %w", docs[i].StoragePath, signErr)
			}

			docs[i].PublicURL = signed
		}
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(docs)
	}

	if len(docs) == 0 {
		statusf("No documents ingested for organization %s.\n", org)

		return nil
	}

	headers := []string{"UPLOADED", "FILE", "SIZE", "RETRIES", "PATH"}
	if flagHistorySign {
		headers = append(headers, "SIGNED URL")
	}

	rows := make([][]string, 0, len(docs))

	for _, doc := range docs {
		row := []string{
			formatTime(doc.UploadedAt),
			doc.FileName,
			formatSize(doc.SizeBytes),
			fmt.Sprintf("%d", doc.RetryCount),
			doc.StoragePath,
		}
		if flagHistorySign {
			row = append(row, doc.PublicURL)
		}

		rows = append(rows, row)
	}

	printColumns(os.Stdout, headers, rows)
	statusf("\n%d document(s)\n", len(docs))

	return nil
}
