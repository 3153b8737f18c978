package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/memblock/adapter"
)

type serveCommand struct {
	cmd     *kingpin.CmdClause
	alloc   allocatorFlags
	listen  string
	minFree uint64
}

func registerServe(app *kingpin.Application) *serveCommand {
	c := &serveCommand{}
	c.cmd = app.Command("serve", "Serve /metrics, /live and /ready for the configured allocator.")
	c.alloc.register(c.cmd)
	c.cmd.Flag("listen", "HTTP listen address.").Default(":20000").Envar("MEMBLOCK_LISTEN").StringVar(&c.listen)
	c.cmd.Flag("min-free", "Bytes that must stay free in the shm dir for /ready.").
		Default("0").Envar("MEMBLOCK_MIN_FREE").Uint64Var(&c.minFree)
	return c
}

func (c *serveCommand) handler() (http.Handler, closer, error) {
	inner, closeAlloc, err := newAllocator(c.alloc.kind, c.alloc.shmDir)
	if err != nil {
		return nil, nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := adapter.RegisterMetrics(reg); err != nil {
		_ = closeAlloc()
		return nil, nil, err
	}
	alloc := adapter.NewPrometheusAllocator(inner, c.alloc.kind)

	checks := []adapter.NamedCheck{
		{Name: c.alloc.kind + "-allocator", Check: adapter.AllocatorProbe(alloc, 64, 64)},
	}
	if c.alloc.kind == "shm" {
		checks = append(checks, adapter.NamedCheck{
			Name:      "shm-free-space",
			Check:     adapter.FreeSpaceCheck(c.alloc.shmDir, c.minFree),
			Readiness: true,
		})
	}
	health := adapter.NewHealthHandler(checks...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	return mux, closeAlloc, nil
}

func (c *serveCommand) run(ctx context.Context) error {
	h, closeAlloc, err := c.handler()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeAlloc(); err != nil {
			logger.Warnf("close %s allocator: %v", c.alloc.kind, err)
		}
	}()

	srv := &http.Server{
		Addr:              c.listen,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("serving on %s", c.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
