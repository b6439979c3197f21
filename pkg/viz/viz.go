// Package viz renders a sheet's dependency graph to SVG for debugging
// recalculation and convergence issues.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/automerge-sheet/pkg/sheet"
)

// RenderToSvg draws every non-blank cell as a node and every precedent ->
// dependent edge as an arrow.
func RenderToSvg(cells []sheet.Cell, edges [][2]sheet.Coord, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	ensureNode := func(c sheet.Coord, label string) (*cgraph.Node, error) {
		name := c.String()
		if n, ok := nodeMap[name]; ok {
			if label != "" {
				n.SetLabel(label)
			}
			return n, nil
		}
		n, err := graph.CreateNode(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create node: %w", err)
		}
		if label == "" {
			label = name
		}
		n.SetLabel(label)
		nodeMap[name] = n
		return n, nil
	}

	for _, cell := range cells {
		label := fmt.Sprintf("%s = %s", cell.Coord, cell.Value.Display())
		if cell.Formula != "" {
			label = fmt.Sprintf("%s %s = %s", cell.Coord, cell.Formula, cell.Value.Display())
		}
		if _, err := ensureNode(cell.Coord, label); err != nil {
			return err
		}
	}

	var edgeCounter int
	for _, edge := range edges {
		from, err := ensureNode(edge[0], "")
		if err != nil {
			return err
		}
		to, err := ensureNode(edge[1], "")
		if err != nil {
			return err
		}
		edgeCounter++
		if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), from, to); err != nil {
			return fmt.Errorf("failed to create edge: %w", err)
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), os.ModePerm); err != nil {
		return fmt.Errorf("failed to write")
	}
	return nil
}

// RenderToTemp renders to a unique file under the system temp directory and
// returns its path.
func RenderToTemp(cells []sheet.Cell, edges [][2]sheet.Coord) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderToSvg(cells, edges, tf); err != nil {
		return "", err
	}
	return tf, nil
}
