package recovery

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/md4sat/internal/expr"
	"github.com/rcarmo/md4sat/internal/logging"
	"github.com/rcarmo/md4sat/internal/md4"
	"github.com/rcarmo/md4sat/internal/message"
	"github.com/rcarmo/md4sat/internal/metrics"
	"github.com/rcarmo/md4sat/internal/solver"
	"github.com/rcarmo/md4sat/internal/transform"
)

func ntHash(t *testing.T, password string) md4.Digest {
	t.Helper()
	data, err := message.Encode(password)
	require.NoError(t, err)
	return md4.Sum(data)
}

func quiet() *logging.Logger {
	l := logging.New(&bytes.Buffer{}, logging.FormatText)
	l.SetLevel(logging.LevelError)
	return l
}

// fixedSolver answers Sat with every reachable variable set to value, or with
// the given assignment when one is set.
type fixedSolver struct {
	value  bool
	assign map[string]bool
}

func (s fixedSolver) Solve(_ context.Context, root *expr.Node) (*solver.Result, error) {
	if s.assign != nil {
		return &solver.Result{Status: solver.StatusSat, Assignment: s.assign}, nil
	}
	a := make(map[string]bool)
	for _, name := range expr.Vars(root) {
		a[name] = s.value
	}
	return &solver.Result{Status: solver.StatusSat, Assignment: a}, nil
}

// blockingSolver waits for cancellation.
type blockingSolver struct{}

func (blockingSolver) Solve(ctx context.Context, _ *expr.Node) (*solver.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRecoverKnownPassword(t *testing.T) {
	for _, mode := range []Mode{Forward, Reverse} {
		t.Run(mode.String(), func(t *testing.T) {
			r := New(WithLogger(quiet()))
			res, err := r.Recover(context.Background(), Request{
				Digest:  ntHash(t, "A"),
				Options: message.Options{Length: -1, Password: "A"},
				Mode:    mode,
			})
			require.NoError(t, err)
			assert.Equal(t, "A", res.Password)
			assert.Equal(t, ntHash(t, "A").String(), res.Digest)
			assert.Equal(t, message.Bits, res.Pinned)
			assert.Equal(t, "41008000", res.Message[0])
			assert.Equal(t, "10000000", res.Message[14])
		})
	}
}

func TestRecoverKnownPasswordWrongDigest(t *testing.T) {
	r := New(WithLogger(quiet()))
	_, err := r.Recover(context.Background(), Request{
		Digest:  ntHash(t, "B"),
		Options: message.Options{Length: -1, Password: "A"},
	})
	assert.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestRecoverEmptyPassword(t *testing.T) {
	d, err := md4.ParseDigest("31D6CFE0D16AE931B73C59D7E0C089C0")
	require.NoError(t, err)

	res, err := New(WithLogger(quiet())).Recover(context.Background(), Request{
		Digest:  d,
		Options: message.Options{Length: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, "", res.Password)
	assert.Equal(t, "31D6CFE0D16AE931B73C59D7E0C089C0", res.Digest)
}

func TestRecoverUnknownCharacter(t *testing.T) {
	tests := []struct {
		name     string
		password string
		mode     Mode
	}{
		{"forward", "x", Forward},
		{"reverse", "x", Reverse},
		{"forward digit", "7", Forward},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var steps int
			r := New(
				WithLogger(quiet()),
				WithObserver(func(ev transform.Event) {
					if ev.Step > 0 {
						steps++
					}
				}),
			)
			d := ntHash(t, tt.password)
			res, err := r.Recover(context.Background(), Request{
				Digest:  d,
				Options: message.Options{Length: len(tt.password)},
				Mode:    tt.mode,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.password, res.Password)
			assert.Equal(t, d.String(), res.Digest)
			assert.Equal(t, message.Bits-7, res.Pinned)
			assert.Positive(t, res.Nodes)
			assert.Equal(t, 48, steps)
		})
	}
}

func TestRecoverMultiBlockDigestIsUnsatisfiable(t *testing.T) {
	d := md4.Sum([]byte(strings.Repeat("a", 100)))
	_, err := New(WithLogger(quiet())).Recover(context.Background(), Request{
		Digest:  d,
		Options: message.Options{Length: 1},
	})
	assert.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestRecoverRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts message.Options
		want error
	}{
		{"no length", message.Options{Length: -1}, message.ErrLengthRequired},
		{"too long", message.Options{Length: 28}, message.ErrMalformedLength},
		{"wide character", message.Options{Length: -1, Password: "Ж"}, message.ErrPasswordEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithLogger(quiet())).Recover(context.Background(), Request{Options: tt.opts})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRecoverDigestMismatch(t *testing.T) {
	req := Request{Digest: ntHash(t, "k"), Options: message.Options{Length: 1}}

	_, err := New(WithLogger(quiet()), WithSolver(fixedSolver{})).Recover(context.Background(), req)
	assert.ErrorIs(t, err, ErrDigestMismatch)

	res, err := New(WithLogger(quiet()), WithSolver(fixedSolver{}), WithVerify(false)).Recover(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "\x00", res.Password)
	assert.NotEqual(t, req.Digest.String(), res.Digest)
}

func TestRecoverIncompleteAssignment(t *testing.T) {
	r := New(WithLogger(quiet()), WithSolver(fixedSolver{assign: map[string]bool{}}))
	_, err := r.Recover(context.Background(), Request{
		Digest:  ntHash(t, "k"),
		Options: message.Options{Length: 1},
	})
	require.ErrorIs(t, err, ErrIncompleteAssignment)
	assert.Contains(t, err.Error(), "unassigned m_1 m_2 m_3 m_4 m_5 m_6 m_7")
}

func TestRecoverSolveTimeout(t *testing.T) {
	r := New(WithLogger(quiet()), WithSolver(blockingSolver{}), WithSolveTimeout(10*time.Millisecond))
	_, err := r.Recover(context.Background(), Request{
		Digest:  ntHash(t, "k"),
		Options: message.Options{Length: 1},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecoverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(WithLogger(quiet()), WithSolver(blockingSolver{}))
	_, err := r.Recover(ctx, Request{
		Digest:  ntHash(t, "k"),
		Options: message.Options{Length: 1},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecoverTracesSteps(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf, logging.FormatText)
	l.SetLevel(logging.LevelDebug)

	_, err := New(WithLogger(l)).Recover(context.Background(), Request{
		Digest:  ntHash(t, "A"),
		Options: message.Options{Length: -1, Password: "A"},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Guessed 512 bits out of 512")
	assert.Contains(t, out, `msg="Step 48 (`)
	assert.Contains(t, out, `msg="Message: 41008000 00000000`)
	assert.Contains(t, out, "digest=")

	d := ntHash(t, "A").Words()
	var state []string
	for _, w := range d {
		state = append(state, fmt.Sprintf("%08X", bits.ReverseBytes32(w)))
	}
	assert.Contains(t, out, `msg="feedforward: `+strings.Join(state, " ")+`"`)
}

func TestRecoverTracesSymbolicState(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf, logging.FormatText)
	l.SetLevel(logging.LevelDebug)

	_, err := New(WithLogger(l), WithSolver(fixedSolver{value: false}), WithVerify(false)).Recover(context.Background(), Request{
		Digest:  ntHash(t, "k"),
		Options: message.Options{Length: 1},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `msg="Message: ??008000 00000000`)
	assert.Contains(t, out, `msg="forward: `)
	assert.Regexp(t, `msg="forward: [0-9A-F?]*\?`, out)
	assert.Contains(t, out, "free bits")
}

func TestRecoverRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(WithLogger(quiet()), WithMetrics(metrics.New(reg)))

	_, err := r.Recover(context.Background(), Request{
		Digest:  ntHash(t, "A"),
		Options: message.Options{Length: -1, Password: "A"},
	})
	require.NoError(t, err)
	_, err = r.Recover(context.Background(), Request{Options: message.Options{Length: -1}})
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "md4sat_recoveries_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" {
					counts[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 1.0, counts[metrics.OutcomeRecovered])
	assert.Equal(t, 1.0, counts[metrics.OutcomeRejected])
}

func TestVerify(t *testing.T) {
	assert.NoError(t, Verify(ntHash(t, "hunter2"), "hunter2"))
	assert.ErrorIs(t, Verify(ntHash(t, "hunter2"), "hunter3"), ErrDigestMismatch)
	assert.ErrorIs(t, Verify(ntHash(t, "a"), "€"), message.ErrPasswordEncoding)
}

func TestRecoverAll(t *testing.T) {
	var running, peak atomic.Int32
	r := New(
		WithLogger(quiet()),
		WithObserver(func(ev transform.Event) {
			if ev.Phase == transform.PhaseForward && ev.Step == 1 {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
			}
			if ev.Phase == transform.PhaseFeedforward {
				running.Add(-1)
			}
		}),
	)

	reqs := []Request{
		{Digest: ntHash(t, "A"), Options: message.Options{Length: -1, Password: "A"}},
		{Digest: ntHash(t, "B"), Options: message.Options{Length: -1, Password: "A"}},
		{Digest: ntHash(t, "C"), Options: message.Options{Length: -1}},
		{Digest: ntHash(t, "D"), Options: message.Options{Length: -1, Password: "D"}},
	}
	out := r.RecoverAll(context.Background(), reqs, 2)
	require.Len(t, out, len(reqs))

	require.NoError(t, out[0].Err)
	assert.Equal(t, "A", out[0].Result.Password)
	assert.ErrorIs(t, out[1].Err, ErrUnsatisfiable)
	assert.ErrorIs(t, out[2].Err, message.ErrLengthRequired)
	require.NoError(t, out[3].Err)
	assert.Equal(t, "D", out[3].Result.Password)
	for i := range reqs {
		assert.Equal(t, reqs[i], out[i].Request)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRecoverAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := New(WithLogger(quiet())).RecoverAll(ctx, []Request{
		{Digest: ntHash(t, "A"), Options: message.Options{Length: -1, Password: "A"}},
	}, 0)
	assert.ErrorIs(t, out[0].Err, context.Canceled)
}

func TestEquationConcrete(t *testing.T) {
	b := expr.NewBuilder()
	m, err := message.Build(b, message.Options{Length: -1, Password: "A"})
	require.NoError(t, err)
	regs := transform.New(b).Forward(m.Words)

	assert.Equal(t, b.True(), Equation(b, regs, ntHash(t, "A").Words()))
	assert.Equal(t, b.False(), Equation(b, regs, ntHash(t, "B").Words()))
}

func TestWithCopiesSettings(t *testing.T) {
	base := New(WithLogger(quiet()), WithVerify(false))
	var events int
	traced := base.With(WithObserver(func(transform.Event) { events++ }))

	assert.Nil(t, base.observer)
	assert.NotNil(t, traced.observer)
	assert.False(t, traced.verify)
	assert.Same(t, base.log, traced.log)

	_, err := traced.Recover(context.Background(), Request{
		Digest:  ntHash(t, "A"),
		Options: message.Options{Length: -1, Password: "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, 49, events)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "forward", Forward.String())
	assert.Equal(t, "reverse", Reverse.String())
}
