// Package recovery finds a password whose single-block MD4 digest equals a
// target, by modelling the block symbolically and handing the digest equation
// to a SAT solver.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rcarmo/md4sat/internal/expr"
	"github.com/rcarmo/md4sat/internal/logging"
	"github.com/rcarmo/md4sat/internal/md4"
	"github.com/rcarmo/md4sat/internal/message"
	"github.com/rcarmo/md4sat/internal/metrics"
	"github.com/rcarmo/md4sat/internal/solver"
	"github.com/rcarmo/md4sat/internal/symbolic"
	"github.com/rcarmo/md4sat/internal/transform"
)

var (
	// ErrUnsatisfiable means no message with the pinned bits hashes to the digest.
	ErrUnsatisfiable = errors.New("no consistent password/message found for this digest under the given fixed bits")
	// ErrIncompleteAssignment means the solver left variables the decoder needs unassigned.
	ErrIncompleteAssignment = errors.New("solver assignment leaves symbolic bits")
	// ErrDigestMismatch means the decoded password does not hash to the digest.
	ErrDigestMismatch = errors.New("recovered password does not hash to the target digest")
)

// Mode selects the direction the equation is built in.
type Mode int

const (
	// Forward hashes the symbolic block and equates the result with the digest.
	Forward Mode = iota
	// Reverse unwinds the digest through the symbolic block and equates the
	// result with the initial chaining state.
	Reverse
)

func (m Mode) String() string {
	if m == Reverse {
		return "reverse"
	}
	return "forward"
}

// Request is one digest to recover.
type Request struct {
	Digest  md4.Digest
	Options message.Options
	Mode    Mode
}

// Result describes a recovered block.
type Result struct {
	Digest   string
	Password string
	Message  [message.Words]string
	Mode     Mode
	// Pinned is the number of block bits fixed before solving.
	Pinned int
	// Nodes is the size of the expression graph the equation was built from.
	Nodes     int
	SolveTime time.Duration
}

// Option configures a Recoverer.
type Option func(*Recoverer)

// WithLogger sets the logger. Step traces are written at debug level.
func WithLogger(l *logging.Logger) Option {
	return func(r *Recoverer) { r.log = l }
}

// WithMetrics records runs in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recoverer) { r.metrics = m }
}

// WithSolver replaces the default gini solver.
func WithSolver(s solver.Solver) Option {
	return func(r *Recoverer) { r.solver = s }
}

// WithVerify turns re-hashing of the recovered password on or off.
func WithVerify(v bool) Option {
	return func(r *Recoverer) { r.verify = v }
}

// WithSolveTimeout bounds each solver call; zero means no bound.
func WithSolveTimeout(d time.Duration) Option {
	return func(r *Recoverer) { r.solveTimeout = d }
}

// WithObserver forwards transform step events to fn.
func WithObserver(fn transform.Observer) Option {
	return func(r *Recoverer) { r.observer = fn }
}

// Recoverer runs recovery pipelines. It holds no per-run state and may be used
// from several goroutines.
type Recoverer struct {
	log          *logging.Logger
	metrics      *metrics.Metrics
	solver       solver.Solver
	verify       bool
	solveTimeout time.Duration
	observer     transform.Observer
}

// New returns a Recoverer using gini and verification by default.
func New(opts ...Option) *Recoverer {
	r := &Recoverer{
		log:    logging.Default(),
		solver: solver.NewGini(0),
		verify: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// With returns a copy of r with opts applied on top of its settings.
func (r *Recoverer) With(opts ...Option) *Recoverer {
	c := *r
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Recover builds the model for req, solves it and decodes the block.
func (r *Recoverer) Recover(ctx context.Context, req Request) (*Result, error) {
	defer r.metrics.Start()()
	res, err := r.recover(ctx, req)
	r.metrics.ObserveOutcome(req.Mode.String(), outcome(err))
	return res, err
}

func (r *Recoverer) recover(ctx context.Context, req Request) (*Result, error) {
	log := r.log.With("digest", req.Digest.String(), "mode", req.Mode.String())

	b := expr.NewBuilder()
	m, err := message.Build(b, req.Options)
	if err != nil {
		return nil, err
	}
	log.Debug("Guessed %d bits out of %d", m.Pinned, message.Bits)
	log.Debug("Message: %s", m)

	e := transform.New(b, transform.WithObserver(r.stepObserver(log)))
	var regs [4]*symbolic.Word
	var target [4]uint32
	if req.Mode == Reverse {
		regs = e.Reverse(req.Digest, m.Words)
		target = md4.Init
	} else {
		regs = e.Forward(m.Words)
		target = req.Digest.Words()
	}

	root := Equation(b, regs, target)
	stats := b.Stats()
	nodes := stats.Nodes
	r.metrics.ObserveModel(nodes, m.Free())
	log.Debug("Solving equation over %d nodes (%d shared), %d free bits", nodes, stats.Hits, stats.Vars)

	sctx := ctx
	if r.solveTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.solveTimeout)
		defer cancel()
	}
	start := time.Now()
	sol, err := r.solver.Solve(sctx, root)
	elapsed := time.Since(start)
	r.metrics.ObserveSolve(req.Mode.String(), elapsed)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	log.Debug("Solver finished in %s: %s", elapsed, sol.Status)

	switch sol.Status {
	case solver.StatusSat:
	case solver.StatusUnsat:
		return nil, fmt.Errorf("%s: %w", req.Digest, ErrUnsatisfiable)
	default:
		return nil, fmt.Errorf("solver returned %s", sol.Status)
	}

	res, err := decode(b, req, m, regs, sol.Assignment)
	if err != nil {
		return nil, err
	}
	res.Nodes = nodes
	res.SolveTime = elapsed

	if r.verify {
		if err := Verify(req.Digest, res.Password); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Equation returns the conjunction of lane-wise equalities between regs and
// target.
func Equation(b *expr.Builder, regs [4]*symbolic.Word, target [4]uint32) *expr.Node {
	eqs := make([]*expr.Node, 0, 4*symbolic.Size)
	for i, w := range regs {
		t := symbolic.New(target[i])
		for l := 0; l < symbolic.Size; l++ {
			eqs = append(eqs, b.Xnor(w.Lane(l).Lift(b), t.Lane(l).Lift(b)))
		}
	}
	return b.Ands(eqs...)
}

// decode substitutes assign into the registers and the block and reads the
// digest, password and message back out.
func decode(b *expr.Builder, req Request, m *message.Block, regs [4]*symbolic.Word, assign map[string]bool) (*Result, error) {
	s := expr.NewSubstituter(b, assign)
	for _, w := range regs {
		w.Substitute(s)
	}
	m.Substitute(s)

	res := &Result{Mode: req.Mode, Pinned: m.Pinned}

	x, err := m.Uint32s()
	if err != nil {
		return nil, fmt.Errorf("%w: message: %v, unassigned %s", ErrIncompleteAssignment, err, unassigned(m.Words[:]...))
	}
	hex, err := m.Hex()
	if err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrIncompleteAssignment, err)
	}
	res.Message = hex

	var out [4]uint32
	for i, w := range regs {
		v, err := w.Uint32()
		if err != nil {
			return nil, fmt.Errorf("%w: register: %v, unassigned %s", ErrIncompleteAssignment, err, unassigned(w))
		}
		out[i] = v
	}
	if req.Mode == Reverse {
		res.Digest = req.Digest.String()
	} else {
		res.Digest = md4.DigestFromWords(out).String()
	}

	pw, err := message.DecodePassword(x)
	if err != nil {
		return nil, fmt.Errorf("%w: password: %v", ErrIncompleteAssignment, err)
	}
	res.Password = pw
	return res, nil
}

// unassigned lists the variables still left in words, at most a handful.
func unassigned(words ...*symbolic.Word) string {
	var nodes []*expr.Node
	for _, w := range words {
		nodes = append(nodes, w.Exprs()...)
	}
	names := expr.Vars(nodes...)
	const limit = 8
	if len(names) > limit {
		return fmt.Sprintf("%s and %d more", strings.Join(names[:limit], " "), len(names)-limit)
	}
	return strings.Join(names, " ")
}

// Verify re-hashes password in its 16-bit-slot encoding and compares with d.
func Verify(d md4.Digest, password string) error {
	data, err := message.Encode(password)
	if err != nil {
		return err
	}
	if got := md4.Sum(data); got != d {
		return fmt.Errorf("%q hashes to %s, want %s: %w", password, got, d, ErrDigestMismatch)
	}
	return nil
}

func (r *Recoverer) stepObserver(log *logging.Logger) transform.Observer {
	trace := log.Enabled(logging.LevelDebug)
	if !trace && r.observer == nil {
		return nil
	}
	return func(ev transform.Event) {
		if trace {
			if ev.Step > 0 {
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				log.Debug("Step %d (%.1f MB)", ev.Step, float64(ms.Alloc)/(1<<20))
			}
			log.Debug("%s: %s", ev.Phase, strings.Join(ev.State[:], " "))
		}
		if r.observer != nil {
			r.observer(ev)
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeRecovered
	case errors.Is(err, ErrUnsatisfiable):
		return metrics.OutcomeUnsatisfiable
	case errors.Is(err, ErrDigestMismatch):
		return metrics.OutcomeMismatch
	case errors.Is(err, message.ErrMalformedLength),
		errors.Is(err, message.ErrPasswordEncoding),
		errors.Is(err, message.ErrLengthRequired):
		return metrics.OutcomeRejected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}
