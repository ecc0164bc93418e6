package translate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/storesync/internal/syncerr"
)

// Resolve returns translators in integration order: every translator comes
// after all of its dependencies. Ties are broken by local table name so the
// order is identical on every site.
//
// A dependency on an unregistered table, or a cycle, is a fatal
// configuration error. The cycle path in the error comes from Tarjan's
// strongly connected components over the same graph.
func (r *Registry) Resolve() ([]Translator, error) {
	graph := make(dependencyGraph, len(r.order))
	indegree := make(map[string]int, len(r.order))
	dependents := make(map[string][]string, len(r.order))

	for _, t := range r.order {
		name := t.LocalTable()
		if _, seen := indegree[name]; !seen {
			indegree[name] = 0
		}
		graph[name] = nil
		for _, dep := range t.Dependencies() {
			if _, ok := r.byLocal[dep]; !ok {
				return nil, syncerr.FatalConfiguration(name,
					fmt.Sprintf("depends on unregistered table %q", dep))
			}
			graph[name] = append(graph[name], dep)
			dependents[dep] = append(dependents[dep], name)
			indegree[name]++
		}
	}

	// Kahn's algorithm with a sorted ready list for deterministic output.
	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	ordered := make([]Translator, 0, len(r.order))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, r.byLocal[name])

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		slices.Sort(ready)
	}

	if len(ordered) != len(r.order) {
		cycles := findCycles(graph)
		msg := "translator dependency graph contains a cycle"
		if len(cycles) > 0 {
			msg += ": " + strings.Join(cycles[0], " -> ")
		}
		return nil, syncerr.FatalConfiguration("", msg)
	}
	return ordered, nil
}

// dependencyGraph maps a local table to the tables it depends on.
type dependencyGraph map[string][]string

// findCycles returns one closed path per cycle, e.g. ["a", "b", "a"].
func findCycles(graph dependencyGraph) [][]string {
	var cycles [][]string
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, cyclePath(scc, graph))
		}
	}
	slices.SortFunc(cycles, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return cycles
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components. Nodes are visited in
// sorted order so the reported components are stable.
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

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath walks edges inside an SCC from its first member back to itself.
func cyclePath(scc []string, graph dependencyGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, w := range graph[current] {
			if w == start || (members[w] && !visited[w]) {
				next = w
				if w == start {
					break
				}
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
