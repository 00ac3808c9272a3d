// Command autoforward-host runs the host side of autoForward: it listens
// for a single transport connection from the container agent and, for
// every port the container announces, binds a matching listener on the
// host and relays traffic through the transport.
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
	"github.com/MunsMan/autoForward/pkg/hostmux"
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
	hmMetrics := hostmux.NewMetrics(set)

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

	ln, err := net.Listen("tcp", c.HostAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", c.HostAddr).Msg("failed to listen for transport connection")
	}
	logger.Info().Str("addr", c.HostAddr).Msg("waiting for container agent")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("accept failed")
			continue
		}
		hostmux.NoDelay(conn)
		logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("container agent connected")

		mx := hostmux.New(conn, logger, hmMetrics)
		if err := mx.Run(); err != nil {
			logger.Warn().Err(err).Msg("multiplexer exited")
		} else {
			logger.Info().Msg("transport closed")
		}
		conn.Close()
		return
	}
}
