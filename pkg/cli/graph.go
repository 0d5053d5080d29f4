package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/modelgraph"
)

// graphOutput is the lineage view of one model.
type graphOutput struct {
	Model        string   `json:"model"`
	Relation     string   `json:"relation"`
	Parents      []string `json:"parents"`
	Children     []string `json:"children"`
	Ancestors    []string `json:"ancestors"`
	Descendants  []string `json:"descendants"`
	Depth        int      `json:"depth"`
	CriticalPath []string `json:"critical_path"`
}

func newGraphCommand(root *rootOptions) *cobra.Command {
	var (
		project  string
		maxDepth int
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "graph <model>",
		Short: "Show the lineage of a dbt model",
		Long: `Load the dbt project and show a model's parents, children, transitive
ancestors and descendants, its depth and the longest dependency chain above it.`,
		Example: `  querysight graph fct_orders
  querysight graph stg_orders --max-depth 1 --project ./warehouse`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxDepth < 0 {
				return fmt.Errorf("%w: --max-depth must not be negative", apperrors.ErrInvalidArgument)
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Project.Path
			if project != "" {
				path = project
			}

			out, err := describeModel(path, args[0], maxDepth)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			renderGraph(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "dbt project directory (default: project.path)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Limit ancestors and descendants to this many hops (0 = unlimited)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the lineage as JSON")
	return cmd
}

func describeModel(projectPath, name string, maxDepth int) (*graphOutput, error) {
	g, err := modelgraph.Load(projectPath)
	if err != nil {
		return nil, err
	}
	node, err := g.Node(name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: model %q is not in the project at %s", apperrors.ErrInvalidArgument, name, projectPath)
		}
		return nil, err
	}

	relations := node.Relations()
	out := &graphOutput{
		Model:    node.Name,
		Relation: relations[len(relations)-1],
		Parents:  g.Parents(name),
		Children: g.Children(name),
	}
	if maxDepth > 0 {
		out.Ancestors, err = g.AncestorsWithin(name, maxDepth)
		if err == nil {
			out.Descendants, err = g.DescendantsWithin(name, maxDepth)
		}
	} else {
		out.Ancestors, err = g.Ancestors(name)
		if err == nil {
			out.Descendants, err = g.Descendants(name)
		}
	}
	if err != nil {
		return nil, err
	}
	if out.Depth, err = g.Depth(name); err != nil {
		return nil, err
	}
	if out.CriticalPath, err = g.CriticalPath(name); err != nil {
		return nil, err
	}
	return out, nil
}

func renderGraph(cmd *cobra.Command, out *graphOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s\n", headingStyle.Render("Model"), out.Model)
	if out.Relation != "" {
		fmt.Fprintf(w, "Relation:      %s\n", out.Relation)
	}
	fmt.Fprintf(w, "Depth:         %d\n", out.Depth)
	fmt.Fprintf(w, "Parents:       %s\n", joinOrDash(out.Parents))
	fmt.Fprintf(w, "Children:      %s\n", joinOrDash(out.Children))
	fmt.Fprintf(w, "Ancestors:     %s\n", joinOrDash(out.Ancestors))
	fmt.Fprintf(w, "Descendants:   %s\n", joinOrDash(out.Descendants))
	fmt.Fprintf(w, "Critical path: %s\n", joinPath(out.CriticalPath))
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return "-"
	}
	return strings.Join(path, " -> ")
}
