package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/mockcore/pkg/config"
	"github.com/getmockd/mockcore/pkg/engine"
	"github.com/getmockd/mockcore/pkg/metrics"
	"github.com/getmockd/mockcore/pkg/resolver"
)

type serveMode string

const (
	modeServe  serveMode = "serve"
	modeRecord serveMode = "record"
	modeReplay serveMode = "replay"
)

func (m serveMode) overrides() config.Overrides {
	switch m {
	case modeRecord:
		return config.Overrides{RecordAll: true}
	case modeReplay:
		return config.Overrides{Offline: true, Replay: true}
	default:
		return config.Overrides{}
	}
}

type serveOptions struct {
	port  int
	host  string
	watch bool
}

func (o *serveOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&o.port, "port", "p", -1, "Listen port; overrides server.port (0 picks a free port)")
	cmd.Flags().StringVar(&o.host, "host", "", "Listen host; overrides server.host")
	cmd.Flags().BoolVar(&o.watch, "watch", true, "Reload the configuration when its files change")
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mock server",
		Long: `Start the mock server with the configured fixtures, rules, synthesis
and upstreams.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, root, opts, modeServe)
		},
	}
	opts.register(cmd)
	return cmd
}

func newRecordCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Start the mock server and record every proxied exchange",
		Long: `Start the mock server with recording forced on for every upstream.
Requests that reach an upstream are stored in the fixtures directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, root, opts, modeRecord)
		},
	}
	opts.register(cmd)
	return cmd
}

func newReplayCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Start the mock server offline, serving recorded fixtures first",
		Long: `Start the mock server with fixture replay forced on and forwarding
disabled. Nothing leaves the process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, root, opts, modeReplay)
		},
	}
	opts.register(cmd)
	return cmd
}

func runServer(cmd *cobra.Command, root *rootOptions, opts *serveOptions, mode serveMode) error {
	doc, err := root.load()
	if err != nil {
		return err
	}
	log := root.logger(doc, cmd.ErrOrStderr())

	m := metrics.New()
	events := resolver.TeeSink{resolver.NewLogSink(log), m}
	rt, err := config.Build(doc, mode.overrides(), events, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	host, port, err := net.SplitHostPort(doc.Server.Addr())
	if err != nil {
		return err
	}
	if opts.host != "" {
		host = opts.host
	}
	if opts.port >= 0 {
		port = strconv.Itoa(opts.port)
	}
	addr := net.JoinHostPort(host, port)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	read, write := doc.Server.Timeouts()
	handlerOpts := []engine.HandlerOption{
		engine.WithWebSocket(rt.WebSocket),
		engine.WithMetrics(m.Handler()),
		engine.WithHandlerLogger(log),
	}
	if rt.Requests != nil {
		handlerOpts = append(handlerOpts, engine.WithRequestLog(rt.Requests))
	}
	handler := engine.NewHandler(rt.Resolver, handlerOpts...)
	srv := engine.NewServer(addr, handler,
		engine.WithLogger(log),
		engine.WithTimeouts(read, write),
		engine.OnShutdown(rt.Close),
	)

	var watcher *config.Watcher
	if opts.watch {
		if watcher, err = config.NewWatcher(rt, log); err != nil {
			_ = ln.Close()
			return fmt.Errorf("watch configuration: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "mockcore %s listening on http://%s\n", mode, ln.Addr())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	return g.Wait()
}
