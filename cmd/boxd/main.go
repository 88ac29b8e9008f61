// Command boxd runs a box protocol server: it listens on a TCP address
// and answers "Echo" and "Sum" commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joeycumines/reactor/box"
	"github.com/joeycumines/reactor/reactor"
	"github.com/joeycumines/reactor/transport"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "boxd",
		Short: "box protocol demo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v.GetString("listen"))
		},
	}

	cmd.Flags().StringP("listen", "l", "127.0.0.1:4470", "address to listen on")
	cmd.Flags().String("config", "", "config file to load (yaml/json/toml)")

	_ = v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	v.SetEnvPrefix("BOXD")
	v.AutomaticEnv()

	cobra.OnInitialize(func() {
		if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
			v.SetConfigFile(cfgFile)
			_ = v.ReadInConfig()
		}
	})

	return cmd
}

func run(parentCtx context.Context, listen string) error {
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r, err := reactor.New(reactor.WithLogger(reactor.NewSlogLogger(nil)))
	if err != nil {
		return fmt.Errorf("boxd: creating reactor: %w", err)
	}

	server, err := transport.ListenTCP("tcp", listen)
	if err != nil {
		return fmt.Errorf("boxd: listen: %w", err)
	}
	fmt.Fprintf(os.Stdout, "boxd: listening on %s\n", server.Addr())

	factory := transport.FactoryFunc(func(peer string) transport.Protocol {
		return box.NewProtocol(demoCommands, demoResponders)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, factory, r.Submit)
	}()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- r.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		server.Stop()
		return r.Stop(context.Background())
	case err := <-errCh:
		return err
	case err := <-runErrCh:
		return err
	}
}

var demoCommands = []box.Command{
	{Name: "Echo"},
	{Name: "Sum"},
}

var demoResponders = map[string]box.Responder{
	"Echo": func(args *box.Box) (*box.Box, error) {
		out := box.NewBox()
		out.SetString("message", args.GetString("message"))
		return out, nil
	},
	"Sum": func(args *box.Box) (*box.Box, error) {
		a, err := strconv.Atoi(args.GetString("a"))
		if err != nil {
			return nil, fmt.Errorf("invalid a: %w", err)
		}
		b, err := strconv.Atoi(args.GetString("b"))
		if err != nil {
			return nil, fmt.Errorf("invalid b: %w", err)
		}
		out := box.NewBox()
		out.SetString("total", strconv.Itoa(a+b))
		return out, nil
	},
}
