package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// newWatchCmd creates the "watch" subcommand for auto-rebuilding on file
// changes.
func newWatchCmd() *cobra.Command {
	var (
		debounce     time.Duration
		outputFormat string
		outputFile   string
	)

	cmd := &cobra.Command{
		Use:   "watch <compose-file>",
		Short: "Auto-rebuild on compose file changes",
		Long: `Watch monitors the compose file and rebuilds the template on each
change. Rapid edits are debounced.

Examples:
    composeforge watch compose.yaml
    composeforge watch compose.yaml -f yaml -o stack.yaml
    composeforge watch compose.yaml --debounce 1s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args[0], watchOptions{
				debounce:     debounce,
				outputFormat: outputFormat,
				outputFile:   outputFile,
			})
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Debounce duration for rapid changes")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

type watchOptions struct {
	debounce     time.Duration
	outputFormat string
	outputFile   string
}

// runWatch monitors the compose file and rebuilds on changes. Editors
// often replace files on save, so the watch covers the parent directory
// and filters events down to the target file.
func runWatch(ctx context.Context, path string, opts watchOptions) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}
	fmt.Printf("Watching: %s\n", absPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Running initial build...")
	rebuild(ctx, absPath, opts)

	var debounceTimer *time.Timer
	rebuildChan := make(chan struct{}, 1)

	fmt.Println("\nWatching for changes... (Ctrl+C to stop)")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(opts.debounce, func() {
				select {
				case rebuildChan <- struct{}{}:
				default:
				}
			})

		case <-rebuildChan:
			fmt.Printf("\n[%s] Change detected, rebuilding...\n", time.Now().Format("15:04:05"))
			rebuild(ctx, absPath, opts)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)

		case <-sigChan:
			fmt.Println("\nStopping watch...")
			return nil
		}
	}
}

// rebuild runs one build pass, reporting failures without stopping the
// watch loop.
func rebuild(ctx context.Context, path string, opts watchOptions) {
	err := runBuild(ctx, path, buildOptions{
		outputFormat: opts.outputFormat,
		outputFile:   opts.outputFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		return
	}
	fmt.Println("Build successful")
}
