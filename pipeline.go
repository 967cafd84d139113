package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// stage_edges is the dependency structure of the pipeline: an edge a -> b
// means b consumes files a produced
var stage_edges = [][2]string{
	{"split", "align_1"},
	{"index_1", "align_1"},
	{"align_1", "sjdb"},
	{"sjdb", "index_2"},
	{"index_2", "align_2"},
	{"split", "align_2"},
	{"align_2", "merge"},
}

func stageGraph(stages []stage) (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic())
	for _, st := range stages {
		if err := g.AddVertex(st.Name); err != nil {
			return nil, errors.Wrapf(err, "adding stage %s", st.Name)
		}
	}
	for _, edge := range stage_edges {
		if err := g.AddEdge(edge[0], edge[1]); err != nil {
			return nil, errors.Wrapf(err, "adding dependency %s -> %s", edge[0], edge[1])
		}
	}
	return g, nil
}

// runPipeline executes every stage in dependency order. When a stage has to
// run, the markers of everything downstream of it are removed first so stale
// outputs are never trusted.
func runPipeline(r *stage_runner, stages []stage) error {
	g, err := stageGraph(stages)
	if err != nil {
		return err
	}
	order, err := graph.TopologicalSort(g)
	if err != nil {
		return errors.Wrap(err, "ordering stages")
	}

	by_name := make(map[string]stage, len(stages))
	for _, st := range stages {
		by_name[st.Name] = st
	}

	for _, name := range order {
		st, known := by_name[name]
		if !known {
			return errors.Errorf("stage %s appears in the dependency graph but is not defined", name)
		}
		if !fileExists(st.markerFile()) {
			if err := invalidateDownstream(g, name); err != nil {
				return err
			}
		}
		if err := r.runStage(st); err != nil {
			return err
		}
	}
	return nil
}

// invalidateDownstream removes the .done markers of every stage reachable
// from name, forcing them to rerun
func invalidateDownstream(g graph.Graph[string, string], name string) error {
	err := graph.DFS(g, name, func(v string) bool {
		if v == name {
			return false
		}
		marker := v + ".done"
		if fileExists(marker) {
			log.Println(fmt.Sprintf("Stage %s must rerun, removing downstream marker %s", name, marker))
			os.Remove(marker)
		}
		return false
	})
	return errors.Wrapf(err, "invalidating stages downstream of %s", name)
}
