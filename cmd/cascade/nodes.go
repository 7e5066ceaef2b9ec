package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/agentstation/cascade/builtin"
	"github.com/agentstation/cascade/yaml"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List available node types",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listNodes(cmd)
	},
}

var nodesInfoCmd = &cobra.Command{
	Use:   "info <type>",
	Short: "Show detailed info about a node type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return nodeInfo(cmd, args[0])
	},
}

func init() {
	nodesCmd.AddCommand(nodesInfoCmd)
	rootCmd.AddCommand(nodesCmd)
}

func builtinRegistry() *builtin.Registry {
	return builtin.RegisterAll(yaml.NewLoader())
}

func listNodes(cmd *cobra.Command) error {
	registry := builtinRegistry()

	metas := make([]builtin.NodeMetadata, 0)
	for _, builder := range registry.All() {
		metas = append(metas, builder.Metadata())
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Category != metas[j].Category {
			return metas[i].Category < metas[j].Category
		}
		return metas[i].Type < metas[j].Type
	})

	if output == jsonFormat {
		fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(metas, 2))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tCATEGORY\tDESCRIPTION")
	for _, meta := range metas {
		fmt.Fprintf(w, "%s\t%s\t%s\n", meta.Type, meta.Category, meta.Description)
	}
	return w.Flush()
}

func nodeInfo(cmd *cobra.Command, nodeType string) error {
	registry := builtinRegistry()

	builder, ok := registry.Get(nodeType)
	if !ok {
		return fmt.Errorf("unknown node type: %s (available: %v)", nodeType, registry.Types())
	}
	meta := builder.Metadata()

	if output == jsonFormat {
		fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(meta, 2))
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Type: %s\n", meta.Type)
	fmt.Fprintf(out, "Category: %s\n", meta.Category)
	fmt.Fprintf(out, "Description: %s\n", meta.Description)
	if meta.Since != "" {
		fmt.Fprintf(out, "Since: %s\n", meta.Since)
	}
	if len(meta.ConfigSchema) > 0 {
		fmt.Fprintf(out, "\nConfig schema:\n%s\n", oj.JSON(meta.ConfigSchema, 2))
	}
	for _, example := range meta.Examples {
		fmt.Fprintf(out, "\nExample: %s\n%s\n", example.Name, oj.JSON(example.Config, 2))
	}
	return nil
}
