package engine

import (
	"fmt"
	"strings"
)

// Levels groups the plan's steps by dependency depth: level 0 has no
// dependencies inside the plan, level n depends only on levels below n.
// Steps keep plan order within a level.
func (p *Plan) Levels() [][]string {
	level := make(map[string]int, len(p.Steps))
	depth := 0

	// Steps are already in dependency order, so one pass suffices.
	for _, step := range p.Steps {
		l := 0
		for _, dep := range step.DependsOn {
			if dl, ok := level[dep]; ok && dl+1 > l {
				l = dl + 1
			}
		}
		level[step.Name] = l
		if l+1 > depth {
			depth = l + 1
		}
	}

	levels := make([][]string, depth)
	for _, step := range p.Steps {
		l := level[step.Name]
		levels[l] = append(levels[l], step.Name)
	}
	return levels
}

// ToDOT generates a DOT format representation of the plan for visualization.
// The output can be rendered with Graphviz tools. Skipped steps are greyed out.
func (p *Plan) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Operations {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	steps := make(map[string]PlanStep, len(p.Steps))
	for _, s := range p.Steps {
		steps[s.Name] = s
	}

	for level, names := range p.Levels() {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")

		for _, name := range names {
			step := steps[name]
			label := fmt.Sprintf("%s\\n%s", name, step.Action)
			fmt.Fprintf(&sb, "    %q [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				name, label, actionColor(step.Action))
		}

		sb.WriteString("  }\n\n")
	}

	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			fmt.Fprintf(&sb, "  %q -> %q [%s];\n", dep, step.Name, edgeStyle(steps[dep].Action))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// actionColor returns a fill color for a step action.
func actionColor(action StepAction) string {
	switch action {
	case StepRun:
		return "lightgreen"
	case StepSkip:
		return "lightgray"
	default:
		return "white"
	}
}

// edgeStyle returns a DOT style string for an edge from a dependency.
func edgeStyle(depAction StepAction) string {
	if depAction == StepSkip {
		return "style=dotted, color=gray"
	}
	return "style=solid, color=black"
}
