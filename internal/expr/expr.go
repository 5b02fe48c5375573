// Package expr implements the boolean expression graph that symbolic words are
// built from and that solver adapters consume.
//
// Nodes are hash-consed by a Builder: structurally identical nodes created by the
// same builder are the same pointer, so the graph of a whole MD4 run is a DAG whose
// size is bounded by the number of distinct gates, not by the size of the tree it
// unfolds to. Node identifiers are assigned in creation order, so every node's
// arguments have smaller identifiers than the node itself.
package expr

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Op is the operator of a node.
type Op uint8

const (
	OpConst Op = iota
	OpVar
	OpNot
	OpAnd
	OpOr
	OpXor
)

var opNames = [...]string{
	OpConst: "const",
	OpVar:   "var",
	OpNot:   "not",
	OpAnd:   "and",
	OpOr:    "or",
	OpXor:   "xor",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Node is a vertex of the expression DAG. Nodes are immutable once built.
type Node struct {
	id    uint32
	op    Op
	value bool
	name  string
	args  [2]*Node
}

// ID returns the builder-local identifier of the node.
func (n *Node) ID() uint32 { return n.id }

// Op returns the node operator.
func (n *Node) Op() Op { return n.op }

// Name returns the variable name of an OpVar node.
func (n *Node) Name() string { return n.name }

// Value returns the value of an OpConst node.
func (n *Node) Value() bool { return n.value }

// IsConst reports whether the node is a constant.
func (n *Node) IsConst() bool { return n.op == OpConst }

// NumArgs returns the number of operands.
func (n *Node) NumArgs() int {
	switch n.op {
	case OpNot:
		return 1
	case OpAnd, OpOr, OpXor:
		return 2
	default:
		return 0
	}
}

// Arg returns operand i.
func (n *Node) Arg(i int) *Node { return n.args[i] }

// String renders the node shallowly; operands are referenced by id.
func (n *Node) String() string {
	switch n.op {
	case OpConst:
		if n.value {
			return "true"
		}
		return "false"
	case OpVar:
		return n.name
	case OpNot:
		return fmt.Sprintf("not(#%d)", n.args[0].id)
	default:
		return fmt.Sprintf("%s(#%d, #%d)", n.op, n.args[0].id, n.args[1].id)
	}
}

// Stats summarises a builder.
type Stats struct {
	Nodes int
	Vars  int
	Hits  int
}

// Builder creates and interns nodes. A Builder is not safe for concurrent use;
// every recovery pipeline owns its own.
type Builder struct {
	nodes []*Node
	table map[uint64][]*Node
	vars  map[string]*Node
	f, t  *Node
	hits  int
}

// NewBuilder returns an empty builder holding only the two constants.
func NewBuilder() *Builder {
	b := &Builder{
		table: make(map[uint64][]*Node),
		vars:  make(map[string]*Node),
	}
	b.f = b.add(&Node{op: OpConst, value: false})
	b.t = b.add(&Node{op: OpConst, value: true})
	return b
}

func (b *Builder) add(n *Node) *Node {
	n.id = uint32(len(b.nodes))
	b.nodes = append(b.nodes, n)
	return n
}

// Len returns the number of nodes created so far.
func (b *Builder) Len() int { return len(b.nodes) }

// Stats returns node, variable and cache-hit counts.
func (b *Builder) Stats() Stats {
	return Stats{Nodes: len(b.nodes), Vars: len(b.vars), Hits: b.hits}
}

// True returns the constant true node.
func (b *Builder) True() *Node { return b.t }

// False returns the constant false node.
func (b *Builder) False() *Node { return b.f }

// Const returns the constant node for v.
func (b *Builder) Const(v bool) *Node {
	if v {
		return b.t
	}
	return b.f
}

// Var returns the variable called name, creating it on first use.
func (b *Builder) Var(name string) *Node {
	if v, ok := b.vars[name]; ok {
		return v
	}
	v := b.add(&Node{op: OpVar, name: name})
	b.vars[name] = v
	return v
}

// Not returns the negation of x.
func (b *Builder) Not(x *Node) *Node {
	switch x.op {
	case OpConst:
		return b.Const(!x.value)
	case OpNot:
		return x.args[0]
	}
	return b.intern(OpNot, x, nil)
}

// And returns the conjunction of x and y.
func (b *Builder) And(x, y *Node) *Node {
	switch {
	case x.op == OpConst:
		if !x.value {
			return b.f
		}
		return y
	case y.op == OpConst:
		if !y.value {
			return b.f
		}
		return x
	case x == y:
		return x
	case complementary(x, y):
		return b.f
	}
	x, y = ordered(x, y)
	return b.intern(OpAnd, x, y)
}

// Or returns the disjunction of x and y.
func (b *Builder) Or(x, y *Node) *Node {
	switch {
	case x.op == OpConst:
		if x.value {
			return b.t
		}
		return y
	case y.op == OpConst:
		if y.value {
			return b.t
		}
		return x
	case x == y:
		return x
	case complementary(x, y):
		return b.t
	}
	x, y = ordered(x, y)
	return b.intern(OpOr, x, y)
}

// Xor returns the exclusive or of x and y. Negations are hoisted out of the
// operands so that xor(not a, b) and not(xor(a, b)) share a node.
func (b *Builder) Xor(x, y *Node) *Node {
	switch {
	case x.op == OpConst:
		if x.value {
			return b.Not(y)
		}
		return y
	case y.op == OpConst:
		if y.value {
			return b.Not(x)
		}
		return x
	case x == y:
		return b.f
	case complementary(x, y):
		return b.t
	}
	neg := false
	if x.op == OpNot {
		x, neg = x.args[0], !neg
	}
	if y.op == OpNot {
		y, neg = y.args[0], !neg
	}
	x, y = ordered(x, y)
	n := b.intern(OpXor, x, y)
	if neg {
		return b.Not(n)
	}
	return n
}

// Xnor returns not(x xor y), the equivalence of x and y.
func (b *Builder) Xnor(x, y *Node) *Node {
	return b.Not(b.Xor(x, y))
}

// Ands returns the conjunction of all xs; the empty conjunction is true.
func (b *Builder) Ands(xs ...*Node) *Node {
	acc := b.t
	for _, x := range xs {
		acc = b.And(acc, x)
		if acc == b.f {
			return acc
		}
	}
	return acc
}

func (b *Builder) intern(op Op, x, y *Node) *Node {
	var buf [9]byte
	buf[0] = byte(op)
	binary.LittleEndian.PutUint32(buf[1:], x.id)
	yid := ^uint32(0)
	if y != nil {
		yid = y.id
	}
	binary.LittleEndian.PutUint32(buf[5:], yid)
	key := xxhash.Sum64(buf[:])

	for _, n := range b.table[key] {
		if n.op == op && n.args[0] == x && n.args[1] == y {
			b.hits++
			return n
		}
	}
	n := b.add(&Node{op: op, args: [2]*Node{x, y}})
	b.table[key] = append(b.table[key], n)
	return n
}

func complementary(x, y *Node) bool {
	return (x.op == OpNot && x.args[0] == y) || (y.op == OpNot && y.args[0] == x)
}

func ordered(x, y *Node) (*Node, *Node) {
	if y.id < x.id {
		return y, x
	}
	return x, y
}

// PostOrder visits every node reachable from roots exactly once, operands before
// the nodes that use them. Nodes for which skip returns true are neither visited
// nor descended into. The walk is iterative; carry chains produce graphs far
// deeper than the goroutine stack should have to hold.
func PostOrder(roots []*Node, skip func(*Node) bool, visit func(*Node)) {
	type frame struct {
		n        *Node
		expanded bool
	}
	seen := make(map[*Node]bool)
	stack := make([]frame, 0, 64)
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{n: roots[i]})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[top.n] {
			continue
		}
		if skip != nil && skip(top.n) {
			seen[top.n] = true
			continue
		}
		if top.expanded {
			seen[top.n] = true
			visit(top.n)
			continue
		}
		stack = append(stack, frame{n: top.n, expanded: true})
		for i := top.n.NumArgs() - 1; i >= 0; i-- {
			if a := top.n.args[i]; !seen[a] {
				stack = append(stack, frame{n: a})
			}
		}
	}
}

// Vars returns the sorted names of the variables reachable from roots.
func Vars(roots ...*Node) []string {
	var names []string
	PostOrder(roots, nil, func(n *Node) {
		if n.op == OpVar {
			names = append(names, n.name)
		}
	})
	sort.Strings(names)
	return names
}
