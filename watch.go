package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/monitor"
)

// Subdirectories the watcher moves processed files into. Both are excluded
// from watching so moves do not re-trigger ingestion.
const (
	doneDirName   = "done"
	failedDirName = "failed"
)

var (
	flagWatchDir    string
	flagMetricsAddr string
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a drop folder and ingest new invoice documents",
		Long: `Watch a directory for new files and upload each one as it settles.

Successfully ingested files move to the done/ subdirectory; failed ones move
to failed/. Runs until interrupted. With --metrics-addr, serves the upload
metrics snapshot and websocket feed while watching.`,
		RunE: runWatch,
	}

	cmd.Flags().StringVar(&flagWatchDir, "dir", "", "directory to watch (overrides config)")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve upload metrics on this address (e.g. localhost:8971)")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	env, err := newIngestEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	org, user, err := env.owner()
	if err != nil {
		return err
	}

	watchDir := flagWatchDir
	if watchDir == "" {
		watchDir = env.cfg.Ingest.WatchDir
	}

	if watchDir == "" {
		return fmt.Errorf("watch directory not configured: set --dir or ingest.watch_dir")
	}

	settle, err := env.cfg.WatchSettle()
	if err != nil {
		return fmt.Errorf("parsing watch settle: %w", err)
	}

	for _, sub := range []string{doneDirName, failedDirName} {
		if err := os.MkdirAll(filepath.Join(watchDir, sub), 0o750); err != nil {
			return fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}

	ctx := shutdownContext(cmd.Context(), env.logger, env.orch.InFlight)

	if flagMetricsAddr != "" {
		srv := monitor.NewServer(env.orch, 0, env.logger)

		go func() {
			if err := srv.Serve(ctx, flagMetricsAddr); err != nil {
				env.logger.Error("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	w := &dropWatcher{
		env:      env,
		dir:      watchDir,
		org:      org,
		user:     user,
		settle:   settle,
		pending:  make(map[string]*time.Timer),
		ingestCh: make(chan string),
	}

	statusf("Watching %s (settle %s)\n", watchDir, settle)

	return w.run(ctx)
}

// dropWatcher ingests files from a drop folder after they settle. A settle
// timer per path coalesces the write bursts editors and downloads produce
// into a single ingestion.
type dropWatcher struct {
	env    *ingestEnv
	dir    string
	org    string
	user   string
	settle time.Duration

	mu       sync.Mutex
	pending  map[string]*time.Timer
	ingestCh chan string
}

func (w *dropWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	// Pick up files already sitting in the drop folder at startup.
	w.scanExisting()

	for {
		select {
		case <-ctx.Done():
			w.env.logger.Info("watch stopped")

			return nil

		case path := <-w.ingestCh:
			w.ingest(ctx, path)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			w.handleEvent(event)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.env.logger.Warn("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// handleEvent resets the settle timer for created or written files.
func (w *dropWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if !w.ingestible(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[event.Name]; ok {
		timer.Reset(w.settle)

		return
	}

	path := event.Name
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		w.ingestCh <- path
	})
}

// scanExisting queues files already present in the drop folder.
func (w *dropWatcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.env.logger.Warn("scanning drop folder", slog.String("error", err.Error()))

		return
	}

	for _, entry := range entries {
		path := filepath.Join(w.dir, entry.Name())
		if entry.IsDir() || !w.ingestible(path) {
			continue
		}

		w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})
	}
}

// ingestible filters out directories, hidden files, and the processed
// subfolders.
func (w *dropWatcher) ingestible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}

	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}

	parent := filepath.Base(filepath.Dir(path))

	return parent != doneDirName && parent != failedDirName
}

// ingest uploads one settled file and moves it to done/ or failed/.
func (w *dropWatcher) ingest(ctx context.Context, path string) {
	res := ingestFile(ctx, w.env, path, w.org, w.user)

	dest := filepath.Join(w.dir, doneDirName, filepath.Base(path))
	if !res.Success {
		dest = filepath.Join(w.dir, failedDirName, filepath.Base(path))
		w.env.logger.Error("ingestion failed",
			slog.String("file", path),
			slog.String("error", res.Error),
		)
	} else {
		statusf("Ingested %s -> %s (attempt %d)\n", filepath.Base(path), res.FilePath, res.RetryAttempt)
	}

	if err := os.Rename(path, dest); err != nil {
		w.env.logger.Warn("moving processed file",
			slog.String("file", path),
			slog.String("error", err.Error()),
		)
	}
}
