package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/formulas/expr"
	"github.com/liamcoop/formulas/formulas"
	"github.com/liamcoop/formulas/formulaservice"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var known []string

	cmd := &cobra.Command{
		Use:   "validate [expression|-]",
		Short: "Check an expression against the input catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expression, err := stdinOr(args, cmd)
			if err != nil {
				return err
			}
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}

			res := expr.Validate(expression, append(cat.Names(), known...))
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else if res.IsValid {
				fmt.Fprintf(out, "valid, uses: %s\n", strings.Join(res.UsedVariables, ", "))
			} else {
				for _, msg := range res.Errors {
					fmt.Fprintln(out, msg)
				}
			}
			if !res.IsValid {
				return fmt.Errorf("expression is invalid (%s)", res.Kind)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&known, "known", nil, "additional names to accept, such as constant keys")
	return cmd
}

func newEvalCmd(opts *rootOptions) *cobra.Command {
	var (
		vars   []string
		consts []string
		trace  bool
	)

	cmd := &cobra.Command{
		Use:   "eval [expression|-]",
		Short: "Evaluate an expression with the given variables and constants",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expression, err := stdinOr(args, cmd)
			if err != nil {
				return err
			}
			values, err := parseAssignments(vars)
			if err != nil {
				return err
			}
			constants, err := parseConstants(consts)
			if err != nil {
				return err
			}

			var res expr.Result
			if trace {
				res = expr.Preview(expression, values, constants)
			} else {
				res = expr.Evaluate(expression, values, constants)
			}

			if opts.jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printResult(cmd.OutOrStdout(), res, trace)
			}
			if !res.Success {
				return fmt.Errorf("evaluation failed")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&consts, "const", nil, "constant as name=value (repeatable)")
	cmd.Flags().BoolVar(&trace, "trace", false, "print intermediate values")
	return cmd
}

func newInputsCmd(opts *rootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "inputs",
		Short: "List the catalog of input variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}
			byCategory := cat.ListInputsByCategory()
			categories := cat.Categories()
			if category != "" {
				if _, ok := byCategory[category]; !ok {
					return fmt.Errorf("unknown category %q", category)
				}
				categories = []string{category}
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				selected := make(map[string]any, len(categories))
				for _, c := range categories {
					selected[c] = byCategory[c]
				}
				return printJSON(out, selected)
			}
			for _, c := range categories {
				fmt.Fprintf(out, "%s:\n", c)
				for _, in := range byCategory[c] {
					fmt.Fprintf(out, "  %-28s %s\n", in.Name, in.Label)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list one category")
	return cmd
}

func newDefaultsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the default formula library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			library := formulas.Defaults()
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, library)
			}
			for _, d := range library {
				fmt.Fprintf(out, "%s = %s\n", d.FieldKey, d.Expression)
			}
			return nil
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <reportId>",
		Short: "Install the default formula library into a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			created, err := svc.SeedDefaultFormulas(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, created)
			}
			fmt.Fprintf(out, "seeded %d formulas into report %s\n", len(created), args[0])
			for _, cfg := range created {
				fmt.Fprintf(out, "  %s v%d %s\n", cfg.Scope.FieldKey(), cfg.Version, cfg.ID)
			}
			return nil
		},
	}
}

func newRecalcCmd(opts *rootOptions) *cobra.Command {
	var (
		useCaseID string
		vars      []string
	)

	cmd := &cobra.Command{
		Use:   "recalc <reportId>",
		Short: "Evaluate every calculated field of a report or use case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(vars)
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			recalc, err := svc.Recalculate(cmd.Context(), args[0], useCaseID, values)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, recalc)
			}
			printRecalculation(cmd, recalc)
			return nil
		},
	}
	cmd.Flags().StringVar(&useCaseID, "use-case", "", "use case to resolve overrides for")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "input value as name=value (repeatable)")
	return cmd
}

func printRecalculation(cmd *cobra.Command, recalc *formulaservice.Recalculation) {
	out := cmd.OutOrStdout()
	var failed []string
	for _, f := range recalc.Fields {
		switch {
		case !f.Resolved:
			fmt.Fprintf(out, "%-20s unresolved\n", f.FieldKey)
		case f.Result.Success:
			fmt.Fprintf(out, "%-20s %s (%s v%d)\n", f.FieldKey, expr.FormatNumber(*f.Result.Value), f.Level, f.Version)
		default:
			fmt.Fprintf(out, "%-20s error (%s) %s\n", f.FieldKey, f.Result.Kind, f.Result.Error)
			failed = append(failed, f.FieldKey)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		fmt.Fprintf(cmd.ErrOrStderr(), "%d fields failed: %s\n", len(failed), strings.Join(failed, ", "))
	}
}
