package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/schema"
)

// CycleWarning represents a recursive group of named functions.
//
// Recursion between functions is legal (a conditional base case can end
// it), so it is reported as a warning. Evaluation depth is bounded at
// runtime.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// dependencyGraph maps a node to the nodes it depends on.
type dependencyGraph map[string][]string

// nodes returns the graph's nodes in sorted order so traversal is
// deterministic.
func (g dependencyGraph) nodes() []string {
	out := make([]string, 0, len(g))
	for n := range g {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// OrderCalculatedProperties sorts each resource's calculated properties so
// that every property is computed after the calculated properties its
// expression reads. A dependency cycle is a compile error.
func OrderCalculatedProperties(def *schema.SystemDefinition) error {
	for _, rname := range def.ResourceTypes() {
		res := def.Resources[rname]
		if len(res.CalculatedProperties) == 0 {
			continue
		}

		byName := make(map[string]*schema.CalculatedPropertyDefinition, len(res.CalculatedProperties))
		for _, c := range res.CalculatedProperties {
			byName[c.Name] = c
		}

		graph := make(dependencyGraph)
		for _, c := range res.CalculatedProperties {
			graph[c.Name] = []string{}
			for _, ref := range expr.PropertyRefs(c.Expression) {
				if _, ok := byName[ref]; ok {
					graph[c.Name] = append(graph[c.Name], ref)
				}
			}
		}

		sccs := tarjanSCC(graph)
		ordered := make([]*schema.CalculatedPropertyDefinition, 0, len(sccs))
		for _, scc := range sccs {
			if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
				path := reconstructCyclePath(scc, graph)
				return &CompileError{
					Field:   "resources." + rname + ".calculatedProperties." + scc[0],
					Message: "calculated properties depend on each other: " + strings.Join(path, " → "),
				}
			}
			ordered = append(ordered, byName[scc[0]])
		}
		res.CalculatedProperties = ordered
	}
	return nil
}

// AnalyzeFunctionCycles reports groups of named functions that call each
// other recursively.
func AnalyzeFunctionCycles(def *schema.SystemDefinition) []CycleWarning {
	graph := make(dependencyGraph)
	for name, body := range def.Functions {
		graph[name] = []string{}
		for _, callee := range expr.Calls(body) {
			if _, ok := def.Functions[callee]; ok {
				graph[name] = append(graph[name], callee)
			}
		}
	}

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Components are emitted in reverse topological order: a component comes
// after every component it depends on.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range graph.nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Recursive function detected: %s → %s", name, name),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Mutually recursive functions detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges within an SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
