package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/agentstation/cascade"
	"github.com/agentstation/cascade/builtin"
	"github.com/agentstation/cascade/yaml"
)

var (
	runInput  string
	runDryRun bool
	runState  bool
)

var runCmd = &cobra.Command{
	Use:   "run <file.yaml>",
	Short: "Execute a flow from a YAML file",
	Long: `Run loads a flow definition, executes it, and prints the execution tree.

The initial global state can be provided as a JSON object with --input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlow(args[0])
	},
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Initial global state as a JSON object")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate the flow without executing")
	runCmd.Flags().BoolVar(&runState, "state", false, "Print the final global state after the tree")

	rootCmd.AddCommand(runCmd)
}

func runFlow(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	cascade.SetLogger(cascade.NewLogger(os.Stderr, verbose))

	loader := yaml.NewLoader()
	builtin.RegisterAll(loader)

	if runDryRun {
		if _, err := yaml.NewParser().ParseFile(absPath); err != nil {
			return err
		}
		fmt.Println("Flow definition is valid (dry run)")
		return nil
	}

	flow, err := loader.LoadFile(absPath)
	if err != nil {
		return err
	}

	global, err := parseInput(runInput)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree, err := flow.RunTree(ctx, global)
	if err != nil {
		return fmt.Errorf("run flow: %w", err)
	}

	switch output {
	case jsonFormat:
		result := map[string]any{"execution": tree.AsMap()}
		if runState {
			result["state"] = map[string]any(global)
		}
		fmt.Println(oj.JSON(result, 2))
	default:
		fmt.Println("Execution tree:")
		fmt.Println(oj.JSON(tree.AsMap(), 2))
		if runState {
			fmt.Println("\nFinal state:")
			printState(global)
		}
	}
	return nil
}

// parseInput decodes the --input JSON object into the initial global store.
func parseInput(input string) (cascade.Store, error) {
	global := cascade.Store{}
	if input == "" {
		return global, nil
	}
	if err := json.Unmarshal([]byte(input), &global); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return global, nil
}

func printState(global cascade.Store) {
	keys := make([]string, 0, len(global))
	for k := range global {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %s\n", k, oj.JSON(global[k]))
	}
}
