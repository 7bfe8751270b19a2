// Package skilltree evaluates skill tree unlocks, tiers and mastery from a
// user's accumulated XP and the prerequisite graph.
package skilltree

import (
	"fmt"
	"progression-pipeline/internal/models"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Tree is a validated, read-only prerequisite graph
type Tree struct {
	nodes []models.SkillTreeNode
	byID  map[string]int
}

// NewTree validates nodes and returns them as a Tree ordered by (tier, id),
// which is a topological order because tiers never decrease along an edge.
func NewTree(nodes []models.SkillTreeNode) (*Tree, error) {
	validate := validator.New()
	ordered := make([]models.SkillTreeNode, 0, len(nodes))
	byID := make(map[string]int, len(nodes))

	for _, n := range nodes {
		n.ID = strings.TrimSpace(n.ID)
		var requires []string
		for _, req := range n.RequiresSkills {
			requires = append(requires, strings.TrimSpace(req))
		}
		n.RequiresSkills = requires
		if n.UnlockTrigger == "" {
			n.UnlockTrigger = models.TriggerXP
		}
		if err := validate.Struct(n); err != nil {
			return nil, fmt.Errorf("skilltree: node %q: %w", n.ID, err)
		}
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("skilltree: duplicate node id %q", n.ID)
		}
		byID[n.ID] = len(ordered)
		ordered = append(ordered, n)
	}

	for _, n := range ordered {
		for _, req := range n.RequiresSkills {
			idx, ok := byID[req]
			if !ok {
				return nil, fmt.Errorf("skilltree: node %q requires unknown skill %q", n.ID, req)
			}
			if req == n.ID {
				return nil, fmt.Errorf("skilltree: node %q requires itself", n.ID)
			}
			if ordered[idx].Tier > n.Tier {
				return nil, fmt.Errorf("skilltree: node %q (tier %d) requires %q from higher tier %d",
					n.ID, n.Tier, req, ordered[idx].Tier)
			}
		}
	}

	if err := checkAcyclic(ordered, byID); err != nil {
		return nil, err
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Tier != ordered[j].Tier {
			return ordered[i].Tier < ordered[j].Tier
		}
		return ordered[i].ID < ordered[j].ID
	})
	for i, n := range ordered {
		byID[n.ID] = i
	}

	return &Tree{nodes: ordered, byID: byID}, nil
}

// checkAcyclic rejects prerequisite cycles, which equal tiers would otherwise allow
func checkAcyclic(nodes []models.SkillTreeNode, byID map[string]int) error {
	const (
		unvisited = iota
		visiting
		done
	)
	color := make([]int, len(nodes))

	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		switch color[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("skilltree: prerequisite cycle: %s", strings.Join(append(path, nodes[i].ID), " -> "))
		}
		color[i] = visiting
		for _, req := range nodes[i].RequiresSkills {
			if err := visit(byID[req], append(path, nodes[i].ID)); err != nil {
				return err
			}
		}
		color[i] = done
		return nil
	}

	for i := range nodes {
		if err := visit(i, nil); err != nil {
			return err
		}
	}
	return nil
}

// Nodes returns the nodes in evaluation order
func (t *Tree) Nodes() []models.SkillTreeNode {
	out := make([]models.SkillTreeNode, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Node looks up a node by id
func (t *Tree) Node(id string) (models.SkillTreeNode, bool) {
	idx, ok := t.byID[id]
	if !ok {
		return models.SkillTreeNode{}, false
	}
	return t.nodes[idx], true
}

// Len returns the number of nodes
func (t *Tree) Len() int {
	return len(t.nodes)
}
