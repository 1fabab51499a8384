// Spins up the skipkv server, compatible w/ the Redis protocol, or inspects a skipkv dump file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nobletooth/skipkv/pkg/config"
	"github.com/nobletooth/skipkv/pkg/display"
	"github.com/nobletooth/skipkv/pkg/port"
	"github.com/nobletooth/skipkv/pkg/storage"
	"github.com/nobletooth/skipkv/pkg/utils"
)

var (
	printVersion = flag.Bool("print_version", false, "Print the version and exit.")
	mode         = flag.String("mode", "serve",
		"What to do: 'serve' runs the Redis server, 'display' renders the dump file level by level, "+
			"'dump' prints the dump file's entries in key order.")
	dumpFile = flag.String("dump_file", "", "Path of the text dump the store is loaded from and saved to.")
)

// loadDump reads the dump file at `path` into a fresh skip list.
func loadDump(ctx context.Context, path string) (*storage.SkipList[string, string], error) {
	if path == "" {
		return nil, errors.New("expected a non-empty --dump_file flag")
	}
	list, err := storage.NewOrderedSkipList[string, string](
		storage.WithTextCodec(storage.StringCodec(), storage.StringCodec()))
	if err != nil {
		return nil, err
	}
	if _, err := list.LoadFile(ctx, path); err != nil {
		return nil, err
	}
	return list, nil
}

// serve loads the dump file, if there's one, and serves the store until `ctx` is done.
func serve(ctx context.Context, dumpPath string) error {
	store, err := port.NewStore()
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if dumpPath != "" {
		applied, err := store.Load(ctx, dumpPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("Dump file doesn't exist yet; starting empty.", "path", dumpPath)
		case err != nil:
			return fmt.Errorf("failed to load dump file: %w", err)
		default:
			slog.Info("Loaded dump file.", "path", dumpPath, "records", applied, "keys", store.Len())
		}
	}
	return port.RunRedisServer(ctx, store, dumpPath)
}

// run executes `runMode`; inspection modes write to `out`.
func run(ctx context.Context, runMode, dumpPath string, out io.Writer) error {
	switch runMode {
	case "serve":
		return serve(ctx, dumpPath)
	case "display":
		list, err := loadDump(ctx, dumpPath)
		if err != nil {
			return err
		}
		display.RenderLevels[string, string](out, list)
		display.RenderEntries(out, list.Iterate())
		return nil
	case "dump":
		list, err := loadDump(ctx, dumpPath)
		if err != nil {
			return err
		}
		return list.ExportTo(out)
	default:
		return fmt.Errorf("unknown --mode '%s'", runMode)
	}
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("skipkv build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *mode, *dumpFile, os.Stdout); err != nil {
		slog.Error("skipkv stopped.", "mode", *mode, "err", err)
		cancel()
		os.Exit(1)
	}
}
