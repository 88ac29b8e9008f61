// Command boxc is a minimal client for the box protocol demo server
// (cmd/boxd): it dials an address, issues a single command with
// key=value arguments, prints the response box, and exits.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joeycumines/reactor/box"
	"github.com/joeycumines/reactor/deferred"
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
		Use:   "boxc <command> [key=value ...]",
		Short: "box protocol demo client",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v.GetString("address"), v.GetDuration("timeout"), args[0], args[1:])
		},
	}

	cmd.Flags().StringP("address", "a", "127.0.0.1:4470", "server address to dial")
	cmd.Flags().Duration("timeout", 5*time.Second, "timeout for the call")

	_ = v.BindPFlag("address", cmd.Flags().Lookup("address"))
	_ = v.BindPFlag("timeout", cmd.Flags().Lookup("timeout"))
	v.SetEnvPrefix("BOXC")
	v.AutomaticEnv()

	return cmd
}

func run(ctx context.Context, address string, timeout time.Duration, command string, kvArgs []string) error {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return fmt.Errorf("boxc: dial: %w", err)
	}
	defer conn.Close()

	proto := box.NewProtocol(nil, nil)
	tr := transport.NewTCPTransport(conn, proto, inlineSubmit)
	proto.MakeConnection(tr)
	proto.ConnectionMade()

	args := box.NewBox()
	for _, kv := range kvArgs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("boxc: argument %q must be key=value", kv)
		}
		args.SetString(k, v)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := proto.Call(command, args)

	result := make(chan any, 1)
	d.AddBoth(func(r any) any {
		result <- r
		return r
	})

	select {
	case r := <-result:
		switch v := r.(type) {
		case *box.Box:
			for _, k := range v.Keys() {
				fmt.Printf("%s=%s\n", k, v.GetString(k))
			}
			return nil
		case *deferred.FailureValue:
			return fmt.Errorf("boxc: remote error (%s): %w", v.Kind(), v)
		default:
			return fmt.Errorf("boxc: unexpected response type %T", r)
		}
	case <-ctx.Done():
		return fmt.Errorf("boxc: %w", ctx.Err())
	}
}

// inlineSubmit runs a transport callback synchronously; boxc drives a
// single short-lived connection, so there is no reactor goroutine to
// marshal callbacks onto.
func inlineSubmit(fn func()) error {
	fn()
	return nil
}
