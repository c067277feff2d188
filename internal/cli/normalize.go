package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/normcache/internal/config"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/normalize"
)

// NormalizeOptions holds flags for the normalize command.
type NormalizeOptions struct {
	*RootOptions
	Config string
}

// NormalizedEntity is one extracted entity in command output.
type NormalizedEntity struct {
	Key    string `json:"key"`
	Fields any    `json:"fields"`
}

// NormalizeResult is the output of the normalize command.
type NormalizeResult struct {
	Template any                `json:"template"`
	Entities []NormalizedEntity `json:"entities"`
	Cycles   int                `json:"cycles"`
}

// NewNormalizeCommand creates the normalize command.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NormalizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "normalize <payload.json>",
		Short: "Split a payload into a template and entities",
		Long: `Normalize a JSON payload without storing it.

Prints the shape template, where every entity is replaced by a
{"$ref": "type:id"} token, and the flat field set extracted for each
entity in first-seen order.

Examples:
  normcache normalize ./post.json
  normcache normalize ./post.json --config ./cache.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "cache config file (.yaml, .yml or .cue)")

	return cmd
}

func runNormalize(opts *NormalizeOptions, payloadPath string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	out.VerboseLog("identity fields: %s, %s", cfg.Identity.TypeField, cfg.Identity.IDField)

	data, err := os.ReadFile(payloadPath)
	if err != nil {
		_ = out.Error(CodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}
	payload, err := ir.Unmarshal(data)
	if err != nil {
		_ = out.Error(CodeLoad, err.Error(), map[string]string{"file": payloadPath})
		return WrapExitError(ExitCommandError, "failed to parse payload", err)
	}

	ex, err := normalize.Extract(payload, cfg.Resolver())
	if err != nil {
		_ = out.Error(CodeNormalize, err.Error(), nil)
		return WrapExitError(ExitFailure, "payload rejected", err)
	}

	result := NormalizeResult{
		Template: ir.ToAny(ex.Template),
		Entities: make([]NormalizedEntity, len(ex.Patches)),
		Cycles:   ex.Cycles,
	}
	for i, p := range ex.Patches {
		result.Entities[i] = NormalizedEntity{Key: p.Key.String(), Fields: ir.ToAny(p.Fields)}
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Template:")
	fmt.Fprintf(w, "  %s\n", renderValue(ex.Template))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Entities (%d):\n", len(ex.Patches))
	if len(ex.Patches) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range ex.Patches {
		fmt.Fprintf(w, "  %s %s\n", p.Key, renderValue(p.Fields))
	}
	if ex.Cycles > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Cycles cut: %d\n", ex.Cycles)
	}
	return nil
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
