// Command bastion is the operator CLI for the settlement mutation engine:
// inspect the persisted world, resolve a proposed turn, list the registered
// world functions, and replay the committed-delta archive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"bastioncore/internal/archive"
	"bastioncore/internal/config"
	"bastioncore/internal/core"
	"bastioncore/internal/infra/blob"
	"bastioncore/internal/infra/persistence/memory"
	"bastioncore/internal/infra/persistence/postgres"
	"bastioncore/internal/infra/persistence/sqlite"
	"bastioncore/pkg/domain"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "bastion",
		Short:         "Settlement mutation engine operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (optional)")
	root.AddCommand(inspectCmd(), functionsCmd(), resolveCmd(), replayCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openAdapter(ctx context.Context, cfg config.Config) (domain.PersistenceAdapter, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.NewAdapter(domain.Snapshot{}), nil
	case "sqlite":
		return sqlite.NewAdapter(cfg.Storage.SQLitePath)
	case "postgres":
		return postgres.NewAdapter(ctx, cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Storage.Driver)
	}
}

func openBlob(ctx context.Context, cfg config.Config) (blob.Store, error) {
	return blob.Open(ctx, blob.Driver(cfg.Archive.BlobDriver), cfg.Archive.FSRoot)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted world snapshot as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			adapter, err := openAdapter(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = adapter.Close() }()
			snap, err := adapter.Load(ctx)
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
}

func functionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the registered world-mutation functions",
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, name := range core.NewWorldRegistry().Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [proposal.json]",
		Short: "Resolve one turn from a proposal file (or stdin)",
		Long: "Reads a turn proposal (function calls plus narrative context), gates and\n" +
			"applies it against the persisted world, and prints the turn result. The\n" +
			"snapshot advances only when the result says committed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			var raw []byte
			if len(args) == 1 {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}
			var proposal domain.TurnProposal
			if err := json.Unmarshal(raw, &proposal); err != nil {
				return fmt.Errorf("decode proposal: %w", err)
			}
			adapter, err := openAdapter(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = adapter.Close() }()
			opts := core.Options{
				Policy:              core.AdjudicationPolicy(cfg.Adjudication.Policy),
				AdjudicationTimeout: cfg.Adjudication.Timeout,
			}
			if cfg.Archive.Enabled {
				store, err := openBlob(ctx, cfg)
				if err != nil {
					return err
				}
				writer, err := archive.NewWriter(store, cfg.Archive.SegmentTurns)
				if err != nil {
					return err
				}
				defer func() { _ = writer.Close() }()
				opts.Archive = writer
			}
			engine, err := core.NewEngine(ctx, adapter, opts)
			if err != nil {
				return err
			}
			result, err := engine.ResolveTurn(ctx, proposal)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func replayCmd() *cobra.Command {
	var summarize, fromDB bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print committed turn history in turn order",
		Long: "Replays history from the archive segments, or with --from-db from the\n" +
			"durable timeline/hazard/combat tables, one delta per committed turn.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			var deltas []domain.CommitDelta
			if fromDB {
				adapter, err := openAdapter(ctx, cfg)
				if err != nil {
					return err
				}
				defer func() { _ = adapter.Close() }()
				snap, err := adapter.Load(ctx)
				if err != nil {
					return err
				}
				deltas = historyFromLogs(snap)
			} else {
				store, err := openBlob(ctx, cfg)
				if err != nil {
					return err
				}
				deltas, err = archive.ReadAll(ctx, store)
				if err != nil {
					return err
				}
			}
			if summarize {
				for _, d := range deltas {
					fmt.Printf("turn %d: %d timeline, %d hazard, %d combat\n",
						d.Turn, len(d.Timeline), len(d.HazardLog), len(d.CombatLog))
				}
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			for _, d := range deltas {
				if err := enc.Encode(d); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&summarize, "summary", false, "print one line per turn instead of full deltas")
	cmd.Flags().BoolVar(&fromDB, "from-db", false, "reconstruct history from the durable log tables instead of the archive")
	return cmd
}

// historyFromLogs regroups the persisted append-only logs into one delta per
// turn. Log rows are stored in insertion order, so within a turn the original
// sequence is preserved.
func historyFromLogs(snap domain.Snapshot) []domain.CommitDelta {
	byTurn := make(map[int]*domain.CommitDelta)
	turnDelta := func(turn int) *domain.CommitDelta {
		d, ok := byTurn[turn]
		if !ok {
			d = &domain.CommitDelta{Turn: turn}
			byTurn[turn] = d
		}
		return d
	}
	for _, ev := range snap.Timeline {
		d := turnDelta(ev.Turn)
		d.Timeline = append(d.Timeline, ev)
	}
	for _, h := range snap.HazardLog {
		d := turnDelta(h.Turn)
		d.HazardLog = append(d.HazardLog, h)
	}
	for _, c := range snap.CombatLog {
		d := turnDelta(c.Turn)
		d.CombatLog = append(d.CombatLog, c)
	}
	turns := make([]int, 0, len(byTurn))
	for turn := range byTurn {
		turns = append(turns, turn)
	}
	sort.Ints(turns)
	out := make([]domain.CommitDelta, 0, len(turns))
	for _, turn := range turns {
		out = append(out, *byTurn[turn])
	}
	return out
}
