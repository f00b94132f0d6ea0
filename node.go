package unityfile

import (
	"fmt"
)

// Node flags.
const (
	// FlagArray is set in TypeFlags when the node is an array.
	FlagArray = 0x1
	// FlagAlign is set in MetaFlag when the stream is aligned to 4 bytes
	// after the node is read.
	FlagAlign = 0x4000
)

// Node describes one field of a type tree: its name, declared type, encoded
// size and nesting. A type tree is a root Node and its descendants.
type Node struct {
	// Level is the depth of the node in the flattened pre-order list.
	Level uint8
	// Type is the declared type name, such as "int" or "PPtr<GameObject>".
	Type string
	// Name is the field name.
	Name string
	// ByteSize is the encoded size of the node, or -1 if it is variable.
	ByteSize int32
	// Index is the position of the node in the flattened list.
	Index     int32
	TypeFlags int32
	Version   int32
	MetaFlag  uint32
	// VariableCount is only present in format version 2.
	VariableCount int32
	// RefTypeHash is present in format versions 19 and above.
	RefTypeHash uint64

	Children []*Node
}

// IsArray returns whether the node is flagged as an array.
func (n *Node) IsArray() bool {
	return n.TypeFlags&FlagArray != 0
}

// Aligned returns whether the stream is aligned after the node.
func (n *Node) Aligned() bool {
	return n.MetaFlag&FlagAlign != 0
}

// Child returns the first child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Flatten returns the node and its descendants in pre-order.
func (n *Node) Flatten() []*Node {
	var list []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		list = append(list, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return list
}

func (n *Node) String() string {
	return fmt.Sprintf("%s %s (%d)", n.Type, n.Name, n.ByteSize)
}

// TreeError indicates a flattened node list whose levels do not form a tree.
type TreeError struct {
	Index  int
	Level  uint8
	Parent uint8
}

func (err TreeError) Error() string {
	return fmt.Sprintf("node %d: level %d cannot follow level %d", err.Index, err.Level, err.Parent)
}

// BuildTree assembles a flattened pre-order node list into a tree, and returns
// the root. The children of a node are the following nodes with a level one
// greater, up to the next node with a level less than or equal to its own.
// Existing Children of the nodes are replaced.
func BuildTree(flat []*Node) (*Node, error) {
	if len(flat) == 0 {
		return nil, nil
	}
	root := flat[0]
	root.Children = nil
	stack := []*Node{root}
	for i, n := range flat[1:] {
		n.Children = nil
		for len(stack) > 0 && stack[len(stack)-1].Level >= n.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			return nil, TreeError{Index: i + 1, Level: n.Level, Parent: root.Level}
		}
		parent := stack[len(stack)-1]
		if n.Level != parent.Level+1 {
			return nil, TreeError{Index: i + 1, Level: n.Level, Parent: parent.Level}
		}
		parent.Children = append(parent.Children, n)
		stack = append(stack, n)
	}
	return root, nil
}
