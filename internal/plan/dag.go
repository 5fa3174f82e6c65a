package plan

import (
	"sort"

	"github.com/archcore/arch/internal/errs"
)

// DAG is the validated, layered dependency graph derived from a Plan. Once
// built, it is immutable: BuildDAG never mutates the Plan passed to it
// except to stamp each Task's Layer field.
type DAG struct {
	Plan *Plan

	// Layers partitions task IDs by execution layer, each sorted
	// lexicographically for deterministic intra-layer ordering (spec.md §4.1).
	Layers [][]string

	// dependents maps a task ID to the task IDs that depend on it, the
	// inverse of Task.Dependencies, used by the scheduler to find tasks
	// whose eligibility should be re-checked after a terminal transition.
	dependents map[string][]string
}

// Dependents returns the task IDs that directly depend on taskID.
func (d *DAG) Dependents(taskID string) []string {
	return d.dependents[taskID]
}

// Depth returns the DAG's depth: 1 + the highest layer index, i.e. the
// number of layers.
func (d *DAG) Depth() int {
	return len(d.Layers)
}

// BuildDAG validates dependency references, detects cycles, and assigns
// execution layers via a deterministic Kahn-style topological pass (spec.md
// §4.1).
func BuildDAG(p *Plan) (*DAG, error) {
	byID := make(map[string]*Task, len(p.Tasks))
	for i := range p.Tasks {
		byID[p.Tasks[i].ID] = &p.Tasks[i]
	}

	// Validate dependency references and build the dependents index before
	// attempting layering, so UnknownDependency is reported before any cycle
	// analysis runs.
	dependents := make(map[string][]string, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, &errs.UnknownDependency{TaskID: t.ID, DependsOn: dep}
			}
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	inDegree := make(map[string]int, len(p.Tasks))
	for i := range p.Tasks {
		inDegree[p.Tasks[i].ID] = len(p.Tasks[i].Dependencies)
	}

	layer := make(map[string]int, len(p.Tasks))
	remaining := len(p.Tasks)
	var frontier []string
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	var layers [][]string
	currentLayer := 0
	for len(frontier) > 0 {
		sort.Strings(frontier)
		layers = append(layers, frontier)
		remaining -= len(frontier)

		var next []string
		for _, id := range frontier {
			layer[id] = currentLayer
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		frontier = next
		currentLayer++
	}

	if remaining > 0 {
		return nil, &errs.CyclicDependency{Cycle: findCycle(byID)}
	}

	for id, l := range layer {
		byID[id].Layer = l
	}

	return &DAG{Plan: p, Layers: layers, dependents: dependents}, nil
}

// findCycle performs a DFS to produce a human-readable cycle for the error
// message. It is only invoked once BuildDAG already knows a cycle exists
// (some tasks never reached in-degree 0), so it is not on the hot path.
func findCycle(byID map[string]*Task) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range byID[id].Dependencies {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the back edge; extract the cycle portion of stack.
				idx := len(stack) - 1
				for stack[idx] != dep {
					idx--
				}
				cycle = append([]string(nil), stack[idx:]...)
				cycle = append(cycle, dep)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				break
			}
		}
	}
	return cycle
}

// CriticalPath returns the longest root-to-leaf path by layer count. When
// multiple paths share the maximum length, the lexicographically smallest
// sequence of task IDs is returned (spec.md §4.1).
func (d *DAG) CriticalPath() []string {
	byID := make(map[string]*Task, len(d.Plan.Tasks))
	for i := range d.Plan.Tasks {
		byID[d.Plan.Tasks[i].ID] = &d.Plan.Tasks[i]
	}

	// longest[id] = (length, path) of the longest path ending at id, path
	// chosen lexicographically smallest among ties. Process tasks in layer
	// order so dependencies are resolved before dependents.
	type entry struct {
		length int
		path   []string
	}
	longest := make(map[string]entry, len(byID))

	for _, layerIDs := range d.Layers {
		for _, id := range layerIDs {
			t := byID[id]
			best := entry{length: 1, path: []string{id}}
			for _, dep := range t.Dependencies {
				prev := longest[dep]
				candidateLen := prev.length + 1
				candidatePath := append(append([]string(nil), prev.path...), id)
				if candidateLen > best.length || (candidateLen == best.length && lexLess(candidatePath, best.path)) {
					best = entry{length: candidateLen, path: candidatePath}
				}
			}
			longest[id] = best
		}
	}

	var overall entry
	// Iterate IDs in sorted order so ties resolve to the lexicographically
	// smallest path deterministically regardless of map iteration order.
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := longest[id]
		if e.length > overall.length || (e.length == overall.length && lexLess(e.path, overall.path)) {
			overall = e
		}
	}
	return overall.path
}

func lexLess(a, b []string) bool {
	if b == nil {
		return false
	}
	if a == nil {
		return true
	}
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
