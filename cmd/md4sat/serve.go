package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rcarmo/md4sat/internal/config"
	"github.com/rcarmo/md4sat/internal/handler"
	"github.com/rcarmo/md4sat/internal/metrics"
	"github.com/rcarmo/md4sat/internal/recovery"
	"github.com/rcarmo/md4sat/internal/solver"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var host, port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the recovery API over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.load(config.LoadOptions{
				Host: strings.TrimSpace(host),
				Port: strings.TrimSpace(port),
			})
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			rec := recovery.New(
				recovery.WithLogger(log),
				recovery.WithMetrics(metrics.New(reg)),
				recovery.WithSolver(solver.NewGini(cfg.Recovery.PollInterval)),
				recovery.WithVerify(cfg.Recovery.Verify),
				recovery.WithSolveTimeout(cfg.Recovery.SolveTimeout),
			)
			server := handler.NewServer(cfg, handler.New(cfg, rec, log, reg))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = server.Shutdown(sctx)
			}()

			log.Info("starting server on %s (TLS=%t)", server.Addr, cfg.Security.EnableTLS)
			if err := startServer(server, cfg); err != nil {
				return failureError(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default 0.0.0.0)")
	cmd.Flags().StringVar(&port, "port", "", "listen port (default 8080)")
	return cmd
}

func startServer(server *http.Server, cfg *config.Config) error {
	if server == nil {
		return fmt.Errorf("server is nil")
	}

	var err error
	if cfg != nil && cfg.Security.EnableTLS {
		err = server.ListenAndServeTLS(cfg.Security.TLSCertFile, cfg.Security.TLSKeyFile)
	} else {
		err = server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
