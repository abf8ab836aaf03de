package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/optimizer"
)

// OptimizeOptions holds flags for the optimize command.
type OptimizeOptions struct {
	*RootOptions
	Category string
	DryRun   bool
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OptimizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run one optimization pass",
		Long: `Score the waiting items, pair them with available workers and commit
the assignments. With --dry-run the plan is printed and nothing is written.

A pass that reaches optimizer.scan_cap is degraded: it still commits, and
the warning is reported on stderr.

Exit codes:
  0 - Pass completed (possibly degraded or with deferred pairs)
  1 - Pass aborted (configuration error)
  2 - Command error

Examples:
  queuecore optimize --config queuecore.yaml
  queuecore optimize --category emergency --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Category, "category", "", "restrict the pass to one category")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the plan without committing")

	return cmd
}

func runOptimize(opts *OptimizeOptions, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return fail(f, "failed to open queue core", err)
	}
	defer a.Close()

	out, err := a.opt.Optimize(ctx, optimizer.Scope{
		Category: domain.NormalizeCategory(opts.Category),
		DryRun:   opts.DryRun,
	})
	if err != nil {
		return fail(f, "optimization failed", err)
	}
	if out.Warning != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", out.Warning)
	}
	return f.Success(out)
}

// ReprioritizeOptions holds flags for the reprioritize command.
type ReprioritizeOptions struct {
	*RootOptions
	Reason string
}

// NewReprioritizeCommand creates the reprioritize command.
func NewReprioritizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReprioritizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reprioritize <item-id>",
		Short: "Recompute one waiting item's score",
		Long: `Recompute the priority score of a waiting item immediately and publish
the change with the given reason.

Exit codes:
  0 - Score recomputed
  1 - Item missing, not waiting, or a conflict persisted
  2 - Command error

Examples:
  queuecore reprioritize i-042 --reason "supervisor override"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReprioritize(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded on the event (required)")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

// ReprioritizeResult reports the recomputed score.
type ReprioritizeResult struct {
	ItemID string `json:"item_id"`
	Score  int64  `json:"score"`
	Seq    int64  `json:"seq"`
}

// WriteText implements TextWriter.
func (r ReprioritizeResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s: score=%d (event #%d)\n", r.ItemID, r.Score, r.Seq)
	return err
}

func runReprioritize(opts *ReprioritizeOptions, itemID string, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return fail(f, "failed to open queue core", err)
	}
	defer a.Close()

	res, err := a.opt.Reprioritize(ctx, itemID, opts.Reason)
	if err != nil {
		return fail(f, "reprioritize failed", err)
	}
	return f.Success(ReprioritizeResult{
		ItemID: itemID,
		Score:  res.Item.Score,
		Seq:    res.Event.Seq,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
