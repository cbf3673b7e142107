package commands

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Subhanamir19/faccely-sub002/internal/app"
	"github.com/Subhanamir19/faccely-sub002/internal/config"
	"github.com/Subhanamir19/faccely-sub002/internal/deadletter"
	"github.com/Subhanamir19/faccely-sub002/internal/logging"
	"github.com/Subhanamir19/faccely-sub002/internal/queue"
)

// flag names
const (
	flagQueue   = "queue"
	flagLimit   = "limit"
	flagArchive = "archive"
)

// backend is what the commands read from.
type backend interface {
	Status(ctx context.Context, id, hint string) (queue.Snapshot, error)
	Health(ctx context.Context) queue.Health
	Waiting(ctx context.Context, queue string, limit int64) ([]*queue.Job, error)
	Archived(ctx context.Context, limit int) ([]deadletter.Record, error)
	Close() error
}

var errNoArchive = errors.New("dead-letter archive not configured (set DATABASE_URL)")

type coreBackend struct {
	*queue.Queue
	core *app.Core
}

func (b coreBackend) Archived(ctx context.Context, limit int) ([]deadletter.Record, error) {
	if b.core.Archive == nil {
		return nil, errNoArchive
	}
	return b.core.Archive.Recent(ctx, limit)
}

func (b coreBackend) Close() error { return b.core.Close() }

// openBackend is replaced in tests.
var openBackend = func(ctx context.Context) (backend, error) {
	cfg, err := config.LoadOps()
	if err != nil {
		return nil, err
	}
	core, err := app.NewCore(ctx, cfg, logging.New("error", os.Stderr))
	if err != nil {
		return nil, err
	}
	return coreBackend{Queue: core.Queue, core: core}, nil
}

// NewRootCmd builds the jobctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect generation jobs, queue health and dead letters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStatusCmd(), newHealthCmd(), newDLQCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// withBackend opens the backend for one command run.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
