package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/priority"
)

// ValidationResult reports a valid configuration file.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	File         string   `json:"file"`
	Categories   int      `json:"categories"`
	Critical     []string `json:"critical"`
	CacheBackend string   `json:"cache_backend"`
}

// WriteText implements TextWriter.
func (r ValidationResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s: valid (%d categories, critical %v, cache %s)\n",
		r.File, r.Categories, r.Critical, r.CacheBackend)
	return err
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a configuration file",
		Long: `Check a YAML configuration file against the schema and the scoring
invariants without opening the store.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - Command error (file not readable)

Examples:
  queuecore validate queuecore.yaml
  queuecore validate queuecore.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		return fail(f, "configuration invalid", err)
	}
	// The calculator rejects scoring tables the schema cannot see, such as
	// a critical category without a base score.
	if _, err := priority.New(cfg.Scoring); err != nil {
		return fail(f, "configuration invalid", err)
	}

	return f.Success(ValidationResult{
		Valid:        true,
		File:         path,
		Categories:   len(cfg.Scoring.CategoryBase),
		Critical:     cfg.Scoring.CriticalCategories,
		CacheBackend: cfg.Cache.Backend,
	})
}
