// Package solver decides satisfiability of expression graphs. Only the gini
// adapter in this package knows about gini literals; callers hand in an
// expr.Node and get back variable names and values.
package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"

	"github.com/rcarmo/md4sat/internal/expr"
)

// Status is the outcome of a solve.
type Status int

const (
	StatusUnknown Status = iota
	StatusSat
	StatusUnsat
)

func (s Status) String() string {
	switch s {
	case StatusSat:
		return "sat"
	case StatusUnsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Result holds the status and, when satisfiable, a value for every variable
// reachable from the root.
type Result struct {
	Status     Status
	Assignment map[string]bool
	// Vars and Gates describe the size of the translated circuit.
	Vars  int
	Gates int
}

// Solver decides whether root can be made true.
type Solver interface {
	Solve(ctx context.Context, root *expr.Node) (*Result, error)
}

// DefaultPollInterval is how often a running solve checks for cancellation.
const DefaultPollInterval = 50 * time.Millisecond

// Gini solves with github.com/go-air/gini. The zero value is ready to use.
type Gini struct {
	PollInterval time.Duration
}

// NewGini returns a gini solver polling at interval; zero selects the default.
func NewGini(interval time.Duration) *Gini {
	return &Gini{PollInterval: interval}
}

// Solve translates root into a gini circuit, converts it to CNF and solves with
// root assumed true. Cancelling ctx stops the search and returns ctx.Err().
func (s *Gini) Solve(ctx context.Context, root *expr.Node) (*Result, error) {
	if root == nil {
		return nil, fmt.Errorf("solver: nil root")
	}
	if root.IsConst() {
		if root.Value() {
			return &Result{Status: StatusSat, Assignment: map[string]bool{}}, nil
		}
		return &Result{Status: StatusUnsat}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lit, ok := literal(root); ok {
		return lit, nil
	}

	c := logic.NewC()
	tr := translate(c, root)

	g := gini.New()
	c.ToCnf(g)
	g.Assume(tr.root)

	status, err := s.wait(ctx, g)
	if err != nil {
		return nil, err
	}
	res := &Result{Status: status, Vars: len(tr.vars), Gates: tr.gates}
	if status == StatusSat {
		res.Assignment = make(map[string]bool, len(tr.vars))
		for name, m := range tr.vars {
			res.Assignment[name] = g.Value(m)
		}
	}
	return res, nil
}

func (s *Gini) wait(ctx context.Context, g *gini.Gini) (Status, error) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	run := g.GoSolve()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r, done := run.Test(); done {
			return status(r), nil
		}
		select {
		case <-ctx.Done():
			run.Stop()
			return StatusUnknown, ctx.Err()
		case <-ticker.C:
		}
	}
}

func status(r int) Status {
	switch r {
	case 1:
		return StatusSat
	case -1:
		return StatusUnsat
	default:
		return StatusUnknown
	}
}

// literal answers roots that are a single variable or its negation.
func literal(root *expr.Node) (*Result, bool) {
	n, v := root, true
	if n.Op() == expr.OpNot {
		n, v = n.Arg(0), false
	}
	if n.Op() != expr.OpVar {
		return nil, false
	}
	return &Result{Status: StatusSat, Assignment: map[string]bool{n.Name(): v}, Vars: 1}, true
}

type translation struct {
	root  z.Lit
	vars  map[string]z.Lit
	gates int
}

// translate maps every node reachable from root to a circuit literal, operands
// first.
func translate(c *logic.C, root *expr.Node) translation {
	lits := make(map[*expr.Node]z.Lit)
	tr := translation{vars: make(map[string]z.Lit)}
	expr.PostOrder([]*expr.Node{root}, nil, func(n *expr.Node) {
		var m z.Lit
		switch n.Op() {
		case expr.OpConst:
			m = c.F
			if n.Value() {
				m = c.T
			}
		case expr.OpVar:
			m = c.Lit()
			tr.vars[n.Name()] = m
		case expr.OpNot:
			m = lits[n.Arg(0)].Not()
		case expr.OpAnd:
			m = c.And(lits[n.Arg(0)], lits[n.Arg(1)])
			tr.gates++
		case expr.OpOr:
			m = c.Or(lits[n.Arg(0)], lits[n.Arg(1)])
			tr.gates++
		case expr.OpXor:
			m = c.Xor(lits[n.Arg(0)], lits[n.Arg(1)])
			tr.gates++
		}
		lits[n] = m
	})
	tr.root = lits[root]
	return tr
}
