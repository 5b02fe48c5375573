package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcarmo/md4sat/internal/config"
	"github.com/rcarmo/md4sat/internal/expr"
	"github.com/rcarmo/md4sat/internal/md4"
	"github.com/rcarmo/md4sat/internal/message"
	"github.com/rcarmo/md4sat/internal/recovery"
	"github.com/rcarmo/md4sat/internal/solver"
)

type recoverFlags struct {
	hashes      []string
	length      int
	password    string
	passwordSet bool // -p was given, possibly empty
	reverse     bool
	verbose     bool
	workers     int
	timeout     time.Duration
	noVerify    bool
}

func newRecoverCmd(a *app) *cobra.Command {
	f := &recoverFlags{}
	cmd := &cobra.Command{
		Use:   "recover -H HASH [-H HASH...] [-l LEN] [-p PASS]",
		Short: "Recover the password behind one or more digests",
		Example: `  md4sat recover -H 7FC56270E7A70FA81A5935B72EACBE29 -p A
  md4sat recover -H <digest> -l 1 -r -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.passwordSet = cmd.Flags().Changed("password")
			return a.recover(cmd.Context(), f)
		},
	}
	cmd.Flags().StringArrayVarP(&f.hashes, "hash", "H", nil, "target digest, 32 hex digits (repeatable)")
	cmd.Flags().IntVarP(&f.length, "length", "l", -1, "password length")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "known password")
	cmd.Flags().BoolVarP(&f.reverse, "reverse", "r", false, "start from the hash and compute backward")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "trace every step with memory usage")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "digests recovered in parallel")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "bound on each solver call")
	cmd.Flags().BoolVar(&f.noVerify, "no-verify", false, "skip re-hashing the recovered password")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func (a *app) recover(ctx context.Context, f *recoverFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	reqs := make([]recovery.Request, 0, len(f.hashes))
	opts := message.Options{Length: f.length, Password: f.password}
	if f.passwordSet && f.password == "" && f.length < 0 {
		opts.Length = 0
	}
	mode := recovery.Forward
	if f.reverse {
		mode = recovery.Reverse
	}
	for _, h := range f.hashes {
		d, err := md4.ParseDigest(h)
		if err != nil {
			return usageError(err)
		}
		reqs = append(reqs, recovery.Request{Digest: d, Options: opts, Mode: mode})
	}

	load := config.LoadOptions{
		Workers:      f.workers,
		SolveTimeout: f.timeout,
		NoVerify:     f.noVerify,
	}
	if f.verbose {
		load.LogLevel = "debug"
	}
	cfg, log, err := a.load(load)
	if err != nil {
		return err
	}

	m, err := message.Build(expr.NewBuilder(), opts)
	if err != nil {
		return usageError(err)
	}
	fmt.Fprintf(a.stdout, "Guessed %d bits out of %d\n", m.Pinned, message.Bits)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	rec := recovery.New(
		recovery.WithLogger(log),
		recovery.WithSolver(solver.NewGini(cfg.Recovery.PollInterval)),
		recovery.WithVerify(cfg.Recovery.Verify),
		recovery.WithSolveTimeout(cfg.Recovery.SolveTimeout),
	)

	var failed []error
	for _, out := range rec.RecoverAll(ctx, reqs, cfg.Recovery.Workers) {
		if out.Err != nil {
			log.Error("recovery of %s failed: %v", out.Request.Digest, out.Err)
			fmt.Fprintf(a.stdout, "Hash: %s\nError: %v\n", out.Request.Digest, out.Err)
			failed = append(failed, out.Err)
			continue
		}
		res := out.Result
		fmt.Fprintln(a.stdout, "Hash:", res.Digest)
		fmt.Fprintln(a.stdout, "Pass:", res.Password)
		fmt.Fprintln(a.stdout, "Message:", strings.Join(res.Message[:], " "))
	}

	switch len(failed) {
	case 0:
		return nil
	case 1:
		return failureError(failed[0])
	}
	return failureError(fmt.Errorf("%d of %d digests not recovered: %w", len(failed), len(reqs), errors.Join(failed...)))
}

func newHashCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hash PASSWORD",
		Short: "Print the MD4 digest of a password in 16-bit character slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := message.Encode(args[0])
			if err != nil {
				return usageError(err)
			}
			fmt.Fprintln(a.stdout, md4.Sum(data))
			return nil
		},
	}
}
