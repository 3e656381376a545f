package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/liamcoop/formulas/catalog"
	"github.com/liamcoop/formulas/expr"
	"github.com/liamcoop/formulas/formulas"
	"github.com/liamcoop/formulas/formulaservice"
	"github.com/liamcoop/formulas/internal/config"
	"github.com/liamcoop/formulas/internal/logger"
)

type rootOptions struct {
	catalogPath string
	logLevel    string
	jsonOutput  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "formulactl",
		Short:        "Validate, preview and evaluate calculated-field formulas",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			logger.SetOutput(cmd.ErrOrStderr())
			logger.SetLevel(level)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", "", "input catalog YAML file (default: built-in catalog)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "WARN", "log level written to stderr")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newValidateCmd(opts),
		newEvalCmd(opts),
		newInputsCmd(opts),
		newDefaultsCmd(opts),
		newSeedCmd(opts),
		newRecalcCmd(opts),
	)
	return root
}

func (o *rootOptions) loadCatalog() (*catalog.Catalog, error) {
	if o.catalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(o.catalogPath)
}

// openService builds a service over the configured store. The returned
// close function releases the database handle, if any.
func (o *rootOptions) openService(ctx context.Context) (*formulaservice.Service, func(), error) {
	cat, err := o.loadCatalog()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {}
	var store formulas.ConfigStore = formulas.NewInMemoryConfigStore()
	if cfg.UsesDatabase() {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store = formulas.NewPostgresConfigStore(db)
		closeFn = func() { db.Close() }
	}

	engine, err := formulas.NewEngine(store, formulas.EngineOptions{
		ProgramCacheSize: cfg.ProgramCacheSize,
		CostLimit:        cfg.EvalCostLimit,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	svc := formulaservice.New(engine, cat)
	if !cfg.UsesDatabase() || cfg.SeedGlobalDefaults {
		if _, err := svc.SeedGlobalDefaults(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return svc, closeFn, nil
}

// parseAssignments turns repeated name=value flags into a map
func parseAssignments(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		name = strings.TrimSpace(name)
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func parseConstants(pairs []string) ([]expr.Constant, error) {
	values, err := parseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	constants := make([]expr.Constant, 0, len(pairs))
	for _, pair := range pairs {
		name, _, _ := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		constants = append(constants, expr.Constant{Key: name, Label: name, Value: values[name]})
	}
	return constants, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res expr.Result, trace bool) {
	if !res.Success {
		fmt.Fprintf(w, "error (%s): %s\n", res.Kind, res.Error)
		if len(res.MissingVariables) > 0 {
			fmt.Fprintf(w, "missing: %s\n", strings.Join(res.MissingVariables, ", "))
		}
		return
	}
	if trace {
		for _, step := range res.Steps {
			fmt.Fprintf(w, "  %s = %s\n", step.Expression, expr.FormatNumber(step.Value))
		}
	}
	fmt.Fprintln(w, expr.FormatNumber(*res.Value))
}

func stdinOr(args []string, cmd *cobra.Command) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return args[0], nil
	}
	in := cmd.InOrStdin()
	if in == nil {
		in = os.Stdin
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
