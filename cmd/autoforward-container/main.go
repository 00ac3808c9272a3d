// Command autoforward-container runs the container side of autoForward: it
// dials the host agent's transport listener, watches for newly listening
// local ports, announces them, and forwards traffic the host relays back
// to whatever local service is bound to the announced port.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/pflag"

	"github.com/MunsMan/autoForward/pkg/afconfig"
	"github.com/MunsMan/autoForward/pkg/containerpump"
	"github.com/MunsMan/autoForward/pkg/forwarder"
	"github.com/MunsMan/autoForward/pkg/portscan"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.CommandLine.Init(os.Args[0], pflag.ContinueOnError)
	if err := pflag.CommandLine.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(1)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		var err error
		if e, err = afconfig.ReadEnvFile(pflag.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
	}

	var c afconfig.Config
	if err := c.UnmarshalEnv(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	logger, err := afconfig.NewLogger(&c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: configure logging: %v\n", err)
		os.Exit(1)
	}

	set := metrics.NewSet()
	scanMetrics := portscan.NewMetrics(set)
	fwdMetrics := forwarder.NewMetrics(set)

	if c.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			set.WritePrometheus(w)
		})
		go func() {
			logger.Warn().Str("addr", c.DebugAddr).Msg("serving debug metrics")
			if err := http.ListenAndServe(c.DebugAddr, mux); err != nil {
				logger.Error().Err(err).Msg("debug server exited")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("addr", c.ContainerConnect).Msg("dialing host agent")
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.ContainerConnect)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", c.ContainerConnect).Msg("failed to connect to host agent")
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	scanner := portscan.NewScanner(portscan.NewLsofEnumerator(), nil)
	scanner.Interval = c.ScanInterval
	scanner.Jitter = c.ScanJitter
	scanner.Logger = logger
	scanner.Metrics = scanMetrics

	fwd := forwarder.New(nil)
	fwd.Timeout = c.ForwardTimeout
	fwd.Logger = logger
	fwd.Metrics = fwdMetrics

	pump := containerpump.New(conn, scanner, fwd, logger)
	fwd.Resolver = containerpump.ScannerResolver{Scanner: scanner}

	if err := pump.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("pump exited")
	}
}
