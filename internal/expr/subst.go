package expr

// Substituter replaces variables by constants and re-simplifies the graph. The memo
// is shared across calls so that substituting many words of the same run touches
// every node at most once.
type Substituter struct {
	b      *Builder
	assign map[string]bool
	memo   map[*Node]*Node
}

// NewSubstituter returns a substituter that rewrites nodes of b under assign.
// Variables missing from assign are left in place.
func NewSubstituter(b *Builder, assign map[string]bool) *Substituter {
	return &Substituter{
		b:      b,
		assign: assign,
		memo:   make(map[*Node]*Node),
	}
}

// Apply returns n with every assigned variable replaced by its value.
func (s *Substituter) Apply(n *Node) *Node {
	if r, ok := s.memo[n]; ok {
		return r
	}
	PostOrder([]*Node{n}, s.done, func(m *Node) {
		s.memo[m] = s.rebuild(m)
	})
	return s.memo[n]
}

func (s *Substituter) done(n *Node) bool {
	_, ok := s.memo[n]
	return ok
}

func (s *Substituter) rebuild(n *Node) *Node {
	switch n.op {
	case OpVar:
		if v, ok := s.assign[n.name]; ok {
			return s.b.Const(v)
		}
		return n
	case OpNot:
		return s.b.Not(s.memo[n.args[0]])
	case OpAnd:
		return s.b.And(s.memo[n.args[0]], s.memo[n.args[1]])
	case OpOr:
		return s.b.Or(s.memo[n.args[0]], s.memo[n.args[1]])
	case OpXor:
		return s.b.Xor(s.memo[n.args[0]], s.memo[n.args[1]])
	default:
		return n
	}
}
