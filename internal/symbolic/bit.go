// Package symbolic implements 32-lane bit vectors whose lanes are either
// concrete booleans or boolean expressions over free variables.
package symbolic

import (
	"github.com/rcarmo/md4sat/internal/expr"
)

// Bit is a single lane. A Bit with a nil node is concrete; otherwise node is a
// non-constant expression.
type Bit struct {
	node  *expr.Node
	value bool
}

// Concrete returns a concrete lane.
func Concrete(v bool) Bit { return Bit{value: v} }

// Symbolic wraps an expression. Constant expressions collapse to concrete lanes.
func Symbolic(n *expr.Node) Bit {
	if n.IsConst() {
		return Bit{value: n.Value()}
	}
	return Bit{node: n}
}

// Var returns a lane holding the variable called name.
func Var(b *expr.Builder, name string) Bit {
	return Symbolic(b.Var(name))
}

// IsConcrete reports whether the lane has a known value.
func (x Bit) IsConcrete() bool { return x.node == nil }

// Value returns the concrete value. It is false for symbolic lanes.
func (x Bit) Value() bool { return x.node == nil && x.value }

// Expr returns the expression of a symbolic lane, or nil.
func (x Bit) Expr() *expr.Node { return x.node }

// Lift returns the lane as an expression node of b.
func (x Bit) Lift(b *expr.Builder) *expr.Node {
	if x.node == nil {
		return b.Const(x.value)
	}
	return x.node
}

func (x Bit) String() string {
	switch {
	case x.node != nil:
		return x.node.String()
	case x.value:
		return "1"
	default:
		return "0"
	}
}

func notBit(b *expr.Builder, x Bit) Bit {
	if x.node == nil {
		return Concrete(!x.value)
	}
	return Symbolic(b.Not(x.node))
}

func andBit(b *expr.Builder, x, y Bit) Bit {
	if x.node == nil && y.node == nil {
		return Concrete(x.value && y.value)
	}
	return Symbolic(b.And(x.Lift(b), y.Lift(b)))
}

func orBit(b *expr.Builder, x, y Bit) Bit {
	if x.node == nil && y.node == nil {
		return Concrete(x.value || y.value)
	}
	return Symbolic(b.Or(x.Lift(b), y.Lift(b)))
}

func xorBit(b *expr.Builder, x, y Bit) Bit {
	if x.node == nil && y.node == nil {
		return Concrete(x.value != y.value)
	}
	return Symbolic(b.Xor(x.Lift(b), y.Lift(b)))
}
