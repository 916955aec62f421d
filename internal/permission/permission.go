// Package permission turns a role's permission payload into a tree or a
// flat list and filters it by text and type.
package permission

import (
	"sort"
	"strings"

	"github.com/productx/backoffice/internal/domain"
)

// Node is one permission with its children.
type Node struct {
	ID       int64
	ParentID int64
	Name     string
	Code     string
	Type     string
	Status   string
	IsSystem bool
	Children []*Node
}

// Item is a node placed in the flat list.
type Item struct {
	*Node
	Depth int
	// Path is the chain of ancestor names, root first, joined by " / ".
	Path string
}

// FromRecords decodes permission records. Records may already be nested
// through a "children" member, or be flat with a "parentId"; both result in
// a tree of roots.
func FromRecords(records []domain.Record) []*Node {
	nested := false
	nodes := make([]*Node, 0, len(records))
	for _, r := range records {
		n := decode(r)
		if len(n.Children) > 0 {
			nested = true
		}
		nodes = append(nodes, n)
	}
	if nested {
		return nodes
	}
	return BuildTree(nodes)
}

func decode(r domain.Record) *Node {
	n := &Node{
		Name:   r.String("name"),
		Code:   firstNonEmpty(r.String("code"), r.String("permission")),
		Type:   r.String("type"),
		Status: r.String("status"),
	}
	n.ID, _ = r.ID()
	n.ParentID, _ = domain.ToInt64(r["parentId"])
	switch v := r["isSystem"].(type) {
	case bool:
		n.IsSystem = v
	default:
		i, _ := domain.ToInt64(v)
		n.IsSystem = i != 0
	}
	if children, ok := r["children"].([]any); ok {
		for _, c := range children {
			if m, ok := c.(map[string]any); ok {
				child := decode(m)
				child.ParentID = n.ID
				n.Children = append(n.Children, child)
			}
		}
	}
	return n
}

// BuildTree links flat nodes by ParentID. Nodes whose parent is missing
// become roots. Siblings keep their input order.
func BuildTree(nodes []*Node) []*Node {
	byID := make(map[int64]*Node, len(nodes))
	for _, n := range nodes {
		n.Children = nil
		if n.ID != 0 {
			byID[n.ID] = n
		}
	}
	var roots []*Node
	for _, n := range nodes {
		parent, ok := byID[n.ParentID]
		if n.ParentID == 0 || !ok || parent == n {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	return roots
}

// Flatten lists the tree depth first, parents before children.
func Flatten(roots []*Node) []Item {
	var out []Item
	var walk func(nodes []*Node, depth int, path string)
	walk = func(nodes []*Node, depth int, path string) {
		for _, n := range nodes {
			p := n.Name
			if path != "" {
				p = path + " / " + n.Name
			}
			out = append(out, Item{Node: n, Depth: depth, Path: p})
			walk(n.Children, depth+1, p)
		}
	}
	walk(roots, 0, "")
	return out
}

// Matches reports whether n contains text in its name or code and has type
// typ. Empty criteria match everything.
func (n *Node) Matches(text, typ string) bool {
	if typ != "" && !strings.EqualFold(n.Type, typ) {
		return false
	}
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(n.Name), text) || strings.Contains(strings.ToLower(n.Code), text)
}

// Filter keeps the flat items matching text and typ.
func Filter(items []Item, text, typ string) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Matches(text, typ) {
			out = append(out, it)
		}
	}
	return out
}

// FilterTree keeps matching nodes together with their ancestors. The input
// tree is not modified.
func FilterTree(roots []*Node, text, typ string) []*Node {
	var out []*Node
	for _, n := range roots {
		children := FilterTree(n.Children, text, typ)
		if len(children) == 0 && !n.Matches(text, typ) {
			continue
		}
		cp := *n
		cp.Children = children
		out = append(out, &cp)
	}
	return out
}

// Types returns the distinct permission types, sorted.
func Types(items []Item) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if it.Type != "" && !seen[it.Type] {
			seen[it.Type] = true
			out = append(out, it.Type)
		}
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
