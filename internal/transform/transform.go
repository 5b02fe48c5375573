// Package transform runs the MD4 compression function over symbolic words, both
// forward from the initial chaining state and backward from a target digest.
package transform

import (
	"fmt"

	"github.com/rcarmo/md4sat/internal/expr"
	"github.com/rcarmo/md4sat/internal/md4"
	"github.com/rcarmo/md4sat/internal/symbolic"
)

// Phase identifies what the engine is doing when it reports an event.
type Phase int

const (
	PhaseForward Phase = iota + 1
	PhaseFeedforward
	PhaseUndoFeedforward
	PhaseReverse
)

func (p Phase) String() string {
	switch p {
	case PhaseForward:
		return "forward"
	case PhaseFeedforward:
		return "feedforward"
	case PhaseUndoFeedforward:
		return "undo-feedforward"
	case PhaseReverse:
		return "reverse"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Event is reported after every step and after the feedforward. Step runs 1..48
// going forward and 48..1 in reverse; it is 0 for the feedforward markers.
type Event struct {
	Phase Phase
	Step  int
	Round int
	// Nodes is the size of the expression graph after the step.
	Nodes int
	// State renders A, B, C and D after the step, '?' marking symbolic nibbles.
	State [4]string
}

// Observer receives engine events.
type Observer func(Event)

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers fn to receive every step event.
func WithObserver(fn Observer) Option {
	return func(e *Engine) { e.observer = fn }
}

// Engine holds the four chaining registers.
type Engine struct {
	b        *expr.Builder
	regs     [4]*symbolic.Word
	observer Observer
}

// New returns an engine whose symbolic lanes live in b.
func New(b *expr.Builder, opts ...Option) *Engine {
	e := &Engine{b: b}
	for _, opt := range opts {
		opt(e)
	}
	e.load(md4.Init)
	return e
}

func (e *Engine) load(state [4]uint32) {
	for i, v := range state {
		e.regs[i] = symbolic.New(v)
	}
}

// Registers returns the current A, B, C and D.
func (e *Engine) Registers() [4]*symbolic.Word { return e.regs }

// Forward runs the 48 steps over x starting from the initial state and adds the
// feedforward. The registers then hold the digest of x.
func (e *Engine) Forward(x [16]*symbolic.Word) [4]*symbolic.Word {
	e.load(md4.Init)
	for i, st := range md4.Schedule {
		w := e.regs[st.Write]
		w.AddAssign(e.round(st)).AddAssign(x[st.Index])
		if st.K != 0 {
			w.AddAssign(symbolic.New(st.K))
		}
		w.RotateLeftAssign(st.Shift)
		e.emit(PhaseForward, i+1, st.Round)
	}
	for i, w := range e.regs {
		w.AddAssign(symbolic.New(md4.Init[i]))
	}
	e.emit(PhaseFeedforward, 0, 0)
	return e.regs
}

// Reverse loads d, removes the feedforward and undoes the 48 steps over x. For
// the block that hashes to d the registers end up holding md4.Init.
func (e *Engine) Reverse(d md4.Digest, x [16]*symbolic.Word) [4]*symbolic.Word {
	out := d.Words()
	for i := range out {
		out[i] -= md4.Init[i]
	}
	e.load(out)
	e.emit(PhaseUndoFeedforward, 0, 0)

	for i := len(md4.Schedule) - 1; i >= 0; i-- {
		st := md4.Schedule[i]
		t := e.round(st).AddAssign(x[st.Index])
		if st.K != 0 {
			t.AddAssign(symbolic.New(st.K))
		}
		e.regs[st.Write].RotateRightAssign(st.Shift).SubAssign(t)
		e.emit(PhaseReverse, i+1, st.Round)
	}
	return e.regs
}

// Digest decodes the registers once they are fully concrete.
func (e *Engine) Digest() (md4.Digest, error) {
	var w [4]uint32
	for i, r := range e.regs {
		v, err := r.Uint32()
		if err != nil {
			return md4.Digest{}, fmt.Errorf("register %c: %w", "ABCD"[i], err)
		}
		w[i] = v
	}
	return md4.DigestFromWords(w), nil
}

func (e *Engine) round(st md4.Step) *symbolic.Word {
	x, y, z := e.regs[st.In[0]], e.regs[st.In[1]], e.regs[st.In[2]]
	switch st.Func {
	case md4.FuncF:
		return F(x, y, z)
	case md4.FuncG:
		return G(x, y, z)
	default:
		return H(x, y, z)
	}
}

func (e *Engine) emit(p Phase, step, round int) {
	if e.observer == nil {
		return
	}
	ev := Event{Phase: p, Step: step, Round: round}
	if e.b != nil {
		ev.Nodes = e.b.Len()
	}
	for i, r := range e.Registers() {
		ev.State[i] = r.String()
	}
	e.observer(ev)
}

// F is the round 1 selector z ^ (x & (y ^ z)).
func F(x, y, z *symbolic.Word) *symbolic.Word {
	return y.Xor(z).AndAssign(x).XorAssign(z)
}

// G is the round 2 majority (x & (y | z)) | (y & z).
func G(x, y, z *symbolic.Word) *symbolic.Word {
	return y.Or(z).AndAssign(x).OrAssign(y.And(z))
}

// H is the round 3 parity x ^ y ^ z.
func H(x, y, z *symbolic.Word) *symbolic.Word {
	return x.Xor(y).XorAssign(z)
}
