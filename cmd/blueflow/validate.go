package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/blueflow/pkg/flowdef"
	"github.com/aretw0/blueflow/pkg/registry"
	"github.com/aretw0/blueflow/pkg/states"
)

var validateCmd = &cobra.Command{
	Use:   "validate [flow-file]",
	Short: "Check a flow definition against the registered behaviors",
	Long: `Loads the flow and runs the full validation: document structure, node types,
dangling transitions and every behavior's own node schema.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("flow")
		if len(args) > 0 {
			path = args[0]
		}
		sets, _ := cmd.Flags().GetStringSlice("behaviors")

		nodes, err := validateFlow(cmd, path, sets)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Flow is valid! ✅ (%d nodes)\n", nodes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("flow", "flow.json", "Flow definition file (.json or .yaml)")
	validateCmd.Flags().StringSlice("behaviors", []string{states.SetBuiltin}, "Behavior sets to register")
}

func validateFlow(cmd *cobra.Command, path string, sets []string) (int, error) {
	graph, err := flowdef.Load(path)
	if err != nil {
		return 0, err
	}
	reg := registry.New()
	if err := states.Register(reg, sets...); err != nil {
		return 0, err
	}
	if err := reg.Validate(cmd.Context(), graph); err != nil {
		return 0, err
	}
	return len(graph.Nodes), nil
}
