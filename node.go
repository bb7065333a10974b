package oxy

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// AgentNode is one node of the static organizational topology: who may
// call whom, frozen at Start. Children come from a component's
// permitted-tool list; remote agents contribute the sub-tree reported
// by their far side.
type AgentNode struct {
	Name     string       `json:"name"`
	Category Category     `json:"category"`
	Remote   bool         `json:"remote,omitempty"`
	Children []*AgentNode `json:"children,omitempty"`
}

// remoteTopologer is implemented by transport agents that can fetch
// the organizational tree of the system behind them.
type remoteTopologer interface {
	RemoteTopology(ctx context.Context) (*AgentNode, error)
}

// buildTopology walks the permitted-tool graph into a tree. Roots are
// the agents no other local agent is permitted to call; if every agent
// is someone's child the registry itself becomes the only root. A
// visited set per branch keeps mutually-permitted agents from
// recursing forever: the second occurrence is emitted as a leaf.
func (m *MAS) buildTopology(ctx context.Context) *AgentNode {
	m.mu.RLock()
	comps := make(map[string]Component, len(m.components))
	for n, c := range m.components {
		comps[n] = c
	}
	m.mu.RUnlock()

	called := make(map[string]bool)
	for _, c := range comps {
		if pl, ok := c.(permittedLister); ok {
			for _, t := range pl.PermittedTools() {
				called[t] = true
			}
		}
	}

	var rootNames []string
	for n, c := range comps {
		if c.Category() == CategoryAgent && !called[n] {
			rootNames = append(rootNames, n)
		}
	}
	sort.Strings(rootNames)

	root := &AgentNode{Name: m.name, Category: CategoryUser}
	for _, n := range rootNames {
		root.Children = append(root.Children, m.topologyNode(ctx, comps, n, map[string]bool{}))
	}
	return root
}

func (m *MAS) topologyNode(ctx context.Context, comps map[string]Component, name string, visited map[string]bool) *AgentNode {
	c, ok := comps[name]
	if !ok {
		return &AgentNode{Name: name, Category: CategoryTool}
	}
	node := &AgentNode{Name: name, Category: c.Category()}
	if visited[name] {
		return node
	}
	visited[name] = true
	defer delete(visited, name)

	if rt, ok := c.(remoteTopologer); ok {
		sub, err := rt.RemoteTopology(ctx)
		if err != nil {
			m.logger.Warn("remote topology unavailable", "agent", name, "error", err)
			node.Remote = true
			return node
		}
		sub.Name = name
		sub.Remote = true
		return sub
	}

	if pl, ok := c.(permittedLister); ok {
		children := append([]string(nil), pl.PermittedTools()...)
		sort.Strings(children)
		for _, child := range children {
			node.Children = append(node.Children, m.topologyNode(ctx, comps, child, visited))
		}
	}
	return node
}

// String renders the tree as an indented outline, one node per line.
func (n *AgentNode) String() string {
	var b strings.Builder
	n.render(&b, 0)
	return b.String()
}

func (n *AgentNode) render(b *strings.Builder, depth int) {
	fmt.Fprintf(b, "%s%s (%s", strings.Repeat("  ", depth), n.Name, n.Category)
	if n.Remote {
		b.WriteString(", remote")
	}
	b.WriteString(")\n")
	for _, c := range n.Children {
		c.render(b, depth+1)
	}
}

// Find returns the first node with the given name in depth-first
// order, or nil.
func (n *AgentNode) Find(name string) *AgentNode {
	if n == nil {
		return nil
	}
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}
