package engine

import (
	"github.com/maestro-run/maestro/internal/plan"
	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Level is an ordered set of mutually independent step ids. All steps in
// one level may run concurrently; a level must fully resolve before the
// next level starts.
type Level []string

// Resolve validates the dependency graph over the given steps and
// partitions them into ordered levels, where every step's dependencies lie
// in strictly earlier levels. Resolution is deterministic: step order
// within a level follows declaration order, so execution logs are
// reproducible across runs.
func Resolve(steps []*plan.Step) ([]Level, error) {
	index := make(map[string]*plan.Step, len(steps))
	for _, step := range steps {
		index[step.ID] = step
	}

	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, maestroerrors.NewDanglingDependencyError(step.ID, dep)
			}
		}
	}

	if err := detectCycle(steps, index); err != nil {
		return nil, err
	}

	depths := make(map[string]int, len(steps))
	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depths[id]; ok {
			return d
		}
		depth := 0
		for _, dep := range index[id].DependsOn {
			if d := depthOf(dep) + 1; d > depth {
				depth = d
			}
		}
		depths[id] = depth
		return depth
	}

	maxDepth := 0
	for _, step := range steps {
		if d := depthOf(step.ID); d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([]Level, maxDepth+1)
	for _, step := range steps {
		d := depths[step.ID]
		levels[d] = append(levels[d], step.ID)
	}
	return levels, nil
}

// detectCycle walks the graph depth-first with an explicit recursion stack
// so a detected cycle can be reported by name.
func detectCycle(steps []*plan.Step, index map[string]*plan.Step) error {
	const (
		unvisited = iota
		onStack
		done
	)

	state := make(map[string]int, len(steps))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case onStack:
			start := 0
			for i, frame := range stack {
				if frame == id {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), stack[start:]...), id)
			return maestroerrors.NewCircularDependencyError(cycle)
		}

		state[id] = onStack
		stack = append(stack, id)
		for _, dep := range index[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, step := range steps {
		if err := visit(step.ID); err != nil {
			return err
		}
	}
	return nil
}
