package dsp

import (
	"github.com/tphakala/crasgo/internal/errors"
)

// Compile (re)computes the topological plugin order and compiles each
// plugin's disable-expression. Called once after Parse and again after
// any rewrite mutates the graph (§4.D: "topologically sorted each time
// the graph mutates").
func (g *Graph) Compile() error {
	order, err := topoSort(g)
	if err != nil {
		return err
	}
	g.order = order
	for _, p := range g.Plugins {
		p.compiledDisable = compileDisable(p.Disable)
	}
	return nil
}

// topoSort orders plugins so every flow's producer runs before its
// consumer, via Kahn's algorithm over the producer->consumer edges.
func topoSort(g *Graph) ([]int, error) {
	indexByLabel := map[string]int{}
	for i, p := range g.Plugins {
		indexByLabel[p.Label] = i
	}

	adj := make([][]int, len(g.Plugins))
	indegree := make([]int, len(g.Plugins))
	for _, f := range g.flowsByName {
		if f.Producer == "" || f.Consumer == "" {
			continue // dangling flow (e.g. external source/sink edge)
		}
		pi, piok := indexByLabel[f.Producer]
		ci, ciok := indexByLabel[f.Consumer]
		if !piok || !ciok {
			continue
		}
		adj[pi] = append(adj[pi], ci)
		indegree[ci]++
	}

	var queue []int
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, len(g.Plugins))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range adj[n] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(g.Plugins) {
		return nil, errors.Newf("dsp graph: cycle detected among %d plugins", len(g.Plugins)-len(order)).
			Component("dsp").
			Category(errors.CategoryValidation).
			Build()
	}
	return order, nil
}

// PluginRunner is implemented by a plugin's concrete processing logic.
// Builtin source and sink plugins are no-ops at the graph edge; their
// ports are the external handoff points the device and stream layers
// read and write directly (§4.D).
type PluginRunner interface {
	Run(g *Graph, p *Plugin, frames int) error
}

// Buffer returns the per-flow in-memory sample buffer, allocating it at
// the requested frame capacity on first use. Constant-time lookup by
// flow id, per §4.D's "connect-all-ports step".
func (g *Graph) Buffer(flowID, frames int) []float32 {
	buf, ok := g.buffers[flowID]
	if !ok || len(buf) != frames {
		buf = make([]float32, frames)
		g.buffers[flowID] = buf
	}
	return buf
}

// Execute runs one block through the compiled graph: for each plugin in
// topological order, evaluate its disable-expression against env; if
// enabled, connect its ports (resolved via Buffer) and invoke its
// runner. runners maps a plugin's Library name to its concrete
// implementation; a library with no registered runner is treated as a
// no-op (covers "builtin" source/sink sections).
func (g *Graph) Execute(env map[string]float64, frames int, runners map[string]PluginRunner) error {
	if g.order == nil {
		if err := g.Compile(); err != nil {
			return err
		}
	}
	for _, idx := range g.order {
		p := g.Plugins[idx]
		if p.compiledDisable != nil && p.compiledDisable.eval(env) {
			continue
		}
		for _, port := range p.Inputs {
			if !port.IsLiteral {
				flow := g.flowsByName[port.Flow]
				g.Buffer(flow.ID, frames)
			}
		}
		for _, port := range p.Outputs {
			if !port.IsLiteral {
				flow := g.flowsByName[port.Flow]
				g.Buffer(flow.ID, frames)
			}
		}
		runner, ok := runners[p.Library]
		if !ok || runner == nil {
			continue
		}
		if err := runner.Run(g, p, frames); err != nil {
			return errors.New(err).
				Component("dsp").
				Category(errors.CategoryDSP).
				Context("plugin", p.Label).
				Build()
		}
	}
	return nil
}
