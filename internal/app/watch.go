package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/specialistvlad/modeljit/internal/engine"
)

// settleDelay lets editors finish writing before a file is reread.
const settleDelay = 50 * time.Millisecond

type watchStats struct {
	builds, compiles, hits, failures int
}

// Watch compiles the manifest at path and recompiles it whenever it or its
// body file changes, until ctx is done. Failed builds are reported and the
// watch continues.
func (a *App) Watch(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(a.context(ctx))
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if a.config.MetricsAddr != "" {
		wait := a.startMetricsServer(ctx, a.config.MetricsAddr)
		defer func() {
			cancel()
			wait()
		}()
	}

	var (
		current *engine.Handle
		stats   watchStats
		watched = map[string]struct{}{}
		sources = map[string]struct{}{}
		started = time.Now()
	)
	defer func() {
		if current != nil {
			current.Close()
		}
	}()

	// Watch directories rather than files: editors replace files on save.
	track := func(files []string) {
		clear(sources)
		for _, f := range files {
			sources[filepath.Clean(f)] = struct{}{}
			dir := filepath.Dir(f)
			if _, ok := watched[dir]; ok {
				continue
			}
			if err := watcher.Add(dir); err != nil {
				a.logger.Warn("Cannot watch directory.", "dir", dir, "error", err)
				continue
			}
			watched[dir] = struct{}{}
		}
	}

	rebuild := func() {
		stats.builds++
		b, err := a.build(ctx, path)
		if b != nil && b.File != nil {
			track(b.File.Sources())
		}

		if err != nil {
			stats.failures++
			fmt.Fprintf(a.outW, "[%d] build failed: %v\n", stats.builds, err)
			return
		}
		if current != nil {
			current.Close()
		}
		current = b.Handle
		if b.Hit {
			stats.hits++
			fmt.Fprintf(a.outW, "[%d] cache hit (fingerprint %s)\n", stats.builds, b.Handle.Fingerprint().Short())
			return
		}
		stats.compiles++
		fmt.Fprintf(a.outW, "[%d] compiled (fingerprint %s) in %s\n", stats.builds, b.Handle.Fingerprint().Short(), b.Duration.Round(time.Microsecond))
	}

	track([]string{path})
	rebuild()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(a.outW, "watched for %s: %d builds, %d compiles, %d cache hits, %d failures\n",
				units.HumanDuration(time.Since(started)), stats.builds, stats.compiles, stats.hits, stats.failures)
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, relevant := sources[filepath.Clean(ev.Name)]; !relevant {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			a.logger.Debug("Source changed.", "file", ev.Name, "op", ev.Op.String())
			a.settle(ctx, watcher)
			rebuild()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("File watcher error.", "error", err)
		}
	}
}

// settle drains the burst of events a single save produces.
func (a *App) settle(ctx context.Context, watcher *fsnotify.Watcher) {
	timer := time.NewTimer(settleDelay)
	defer timer.Stop()
	for {
		select {
		case <-watcher.Events:
			timer.Reset(settleDelay)
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}
