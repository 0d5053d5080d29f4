// Package modelgraph loads a dbt project's declared models into an immutable,
// validated dependency graph.
package modelgraph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// Graph is a DAG of models keyed by name; edges point from a model to what it depends on.
// A Graph is never modified after New returns.
type Graph struct {
	nodes    map[string]*models.ModelNode
	sources  map[string]*models.SourceNode
	names    []string
	parents  map[string][]string
	children map[string][]string
	depth    map[string]int

	// sourceConsumers maps a source name to the models that read it directly.
	sourceConsumers map[string][]string
	fingerprint     string
}

// New validates the declarations and builds the graph. It fails with a *LoadError when a
// name is missing or duplicated, a dependency is undeclared, or the models form a cycle.
func New(nodes []models.ModelNode, sources []models.SourceNode) (*Graph, error) {
	g := &Graph{
		nodes:           make(map[string]*models.ModelNode, len(nodes)),
		sources:         make(map[string]*models.SourceNode, len(sources)),
		parents:         make(map[string][]string, len(nodes)),
		children:        make(map[string][]string, len(nodes)),
		depth:           make(map[string]int, len(nodes)),
		sourceConsumers: make(map[string][]string),
	}

	for i := range sources {
		s := sources[i]
		if s.Name == "" {
			return nil, malformed("", "source %d has no name", i)
		}
		if _, dup := g.sources[s.Name]; dup {
			return nil, malformed("", "duplicate source %q", s.Name)
		}
		g.sources[s.Name] = &s
	}

	for i := range nodes {
		n := nodes[i]
		if n.Name == "" {
			return nil, malformed(n.Path, "model %d has no name", i)
		}
		if _, dup := g.nodes[n.Name]; dup {
			return nil, malformed(n.Path, "duplicate model %q", n.Name)
		}
		n.DependsOn = sortedUnique(n.DependsOn)
		n.Sources = sortedUnique(n.Sources)
		g.nodes[n.Name] = &n
		g.names = append(g.names, n.Name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		n := g.nodes[name]
		for _, dep := range n.DependsOn {
			if dep == name {
				return nil, &LoadError{Kind: LoadErrorCycle, Cycle: []string{name, name}}
			}
			if _, ok := g.nodes[dep]; !ok {
				return nil, &LoadError{Kind: LoadErrorUndeclaredDependency, Model: name, Dependency: dep, Path: n.Path}
			}
			g.parents[name] = append(g.parents[name], dep)
			g.children[dep] = append(g.children[dep], name)
		}
		for _, src := range n.Sources {
			if _, ok := g.sources[src]; !ok {
				return nil, &LoadError{Kind: LoadErrorUndeclaredDependency, Model: name, Dependency: src, Path: n.Path}
			}
			g.sourceConsumers[src] = append(g.sourceConsumers[src], name)
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	for _, name := range g.names {
		g.computeDepth(name)
	}

	fp, err := g.computeFingerprint()
	if err != nil {
		return nil, malformed("", "fingerprint graph: %w", err)
	}
	g.fingerprint = fp
	return g, nil
}

// checkAcyclic runs a DFS with a visiting set and reports the first cycle found.
func (g *Graph) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.names))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range g.parents[name] {
			switch state[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				cycle := append(slices.Clone(stack[start:]), dep)
				return cycle
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range g.names {
		if state[name] != unvisited {
			continue
		}
		if cycle := visit(name); cycle != nil {
			return &LoadError{Kind: LoadErrorCycle, Cycle: cycle}
		}
	}
	return nil
}

func (g *Graph) computeDepth(name string) int {
	if d, ok := g.depth[name]; ok {
		return d
	}
	d := 0
	for _, dep := range g.parents[name] {
		if pd := g.computeDepth(dep) + 1; pd > d {
			d = pd
		}
	}
	g.depth[name] = d
	return d
}

func (g *Graph) computeFingerprint() (string, error) {
	decl := struct {
		Models  []*models.ModelNode  `json:"models"`
		Sources []*models.SourceNode `json:"sources"`
	}{}
	for _, name := range g.names {
		decl.Models = append(decl.Models, g.nodes[name])
	}
	for _, name := range g.SourceNames() {
		decl.Sources = append(decl.Sources, g.sources[name])
	}
	data, err := json.Marshal(decl)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ============================================================================
// Lookups
// ============================================================================

// Len returns the number of models.
func (g *Graph) Len() int {
	return len(g.names)
}

// Names returns all model names, sorted.
func (g *Graph) Names() []string {
	return slices.Clone(g.names)
}

// Node returns the declaration of a model.
func (g *Graph) Node(name string) (*models.ModelNode, error) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, apperrors.ErrNotFound)
	}
	return n, nil
}

// Nodes returns every model declaration in name order.
func (g *Graph) Nodes() []*models.ModelNode {
	out := make([]*models.ModelNode, 0, len(g.names))
	for _, name := range g.names {
		out = append(out, g.nodes[name])
	}
	return out
}

// Sources returns every declared source in name order.
func (g *Graph) Sources() []*models.SourceNode {
	names := g.SourceNames()
	out := make([]*models.SourceNode, 0, len(names))
	for _, name := range names {
		out = append(out, g.sources[name])
	}
	return out
}

// SourceNames returns the declared source names, sorted.
func (g *Graph) SourceNames() []string {
	names := make([]string, 0, len(g.sources))
	for name := range g.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceConsumers returns the models that read a source directly.
func (g *Graph) SourceConsumers(source string) []string {
	return slices.Clone(g.sourceConsumers[source])
}

// Parents returns the direct upstream models.
func (g *Graph) Parents(name string) []string {
	return slices.Clone(g.parents[name])
}

// Children returns the direct downstream models.
func (g *Graph) Children(name string) []string {
	return slices.Clone(g.children[name])
}

// Fingerprint is a content hash over the sorted declarations. Two graphs loaded from
// the same metadata have the same fingerprint.
func (g *Graph) Fingerprint() string {
	return g.fingerprint
}

// ============================================================================
// Traversal
// ============================================================================

// Ancestors returns every model the named model transitively depends on, sorted.
func (g *Graph) Ancestors(name string) ([]string, error) {
	return g.AncestorsWithin(name, 0)
}

// Descendants returns every model that transitively depends on the named model, sorted.
func (g *Graph) Descendants(name string) ([]string, error) {
	return g.DescendantsWithin(name, 0)
}

// AncestorsWithin is Ancestors limited to maxDepth hops; maxDepth <= 0 means unlimited.
func (g *Graph) AncestorsWithin(name string, maxDepth int) ([]string, error) {
	if _, ok := g.nodes[name]; !ok {
		return nil, fmt.Errorf("model %q: %w", name, apperrors.ErrNotFound)
	}
	return walk(name, g.parents, maxDepth), nil
}

// DescendantsWithin is Descendants limited to maxDepth hops; maxDepth <= 0 means unlimited.
func (g *Graph) DescendantsWithin(name string, maxDepth int) ([]string, error) {
	if _, ok := g.nodes[name]; !ok {
		return nil, fmt.Errorf("model %q: %w", name, apperrors.ErrNotFound)
	}
	return walk(name, g.children, maxDepth), nil
}

// walk does a breadth-first traversal. It terminates because the graph is acyclic
// and every node is visited once.
func walk(start string, edges map[string][]string, maxDepth int) []string {
	seen := map[string]bool{start: true}
	frontier := []string{start}
	var out []string

	for hop := 1; len(frontier) > 0 && (maxDepth <= 0 || hop <= maxDepth); hop++ {
		var next []string
		for _, n := range frontier {
			for _, e := range edges[n] {
				if seen[e] {
					continue
				}
				seen[e] = true
				out = append(out, e)
				next = append(next, e)
			}
		}
		frontier = next
	}

	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// Depth returns the length of the longest upstream chain of models. A model that only
// reads sources has depth 0.
func (g *Graph) Depth(name string) (int, error) {
	d, ok := g.depth[name]
	if !ok {
		return 0, fmt.Errorf("model %q: %w", name, apperrors.ErrNotFound)
	}
	return d, nil
}

// MaxDepth returns the greatest depth of any model.
func (g *Graph) MaxDepth() int {
	max := 0
	for _, d := range g.depth {
		if d > max {
			max = d
		}
	}
	return max
}

// CriticalPath returns the longest upstream chain ending at the named model, root first.
// Ties resolve to the alphabetically first parent.
func (g *Graph) CriticalPath(name string) ([]string, error) {
	if _, ok := g.nodes[name]; !ok {
		return nil, fmt.Errorf("model %q: %w", name, apperrors.ErrNotFound)
	}
	path := []string{name}
	for cur := name; len(g.parents[cur]) > 0; {
		best := g.parents[cur][0]
		for _, p := range g.parents[cur][1:] {
			if g.depth[p] > g.depth[best] {
				best = p
			}
		}
		path = append(path, best)
		cur = best
	}
	slices.Reverse(path)
	return path, nil
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	sort.Strings(out)
	return slices.Compact(out)
}
