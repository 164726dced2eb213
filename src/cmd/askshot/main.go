package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"askshot/src/config"
	"askshot/src/runtimeinit"
	"askshot/src/singleinstance"
)

type app struct {
	out    io.Writer
	in     io.Reader
	dbPath string
	config string
	// bootstrap and delegate are replaced in tests.
	bootstrap func(opts runtimeinit.Options) (*runtimeinit.Env, error)
	delegate  func(ctx context.Context, req singleinstance.Request) (bool, string, error)
}

func newApp() *app {
	return &app{
		out:       os.Stdout,
		in:        os.Stdin,
		bootstrap: runtimeinit.Bootstrap,
		delegate:  singleinstance.NewClient().Delegate,
	}
}

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "askshot",
		Short:         "Capture a page region and ask questions about it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(a.out)
	cmd.SetIn(a.in)
	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "Path to the state database (overrides DB_PATH)")
	cmd.PersistentFlags().StringVar(&a.config, "config", "", "YAML settings file (overrides ASKSHOT_CONFIG)")

	cmd.AddCommand(
		newServeCmd(a),
		newCaptureCmd(a),
		newAskCmd(a),
		newHistoryCmd(a),
		newQuestionCmd(a),
		newCreditsCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newClearCmd(a),
		newViewCmd(a),
	)
	return cmd
}

func (a *app) env(needClipboard bool) (*runtimeinit.Env, error) {
	return a.bootstrap(runtimeinit.Options{
		LoadOptions: config.LoadOptions{
			DBPathOverride:     a.dbPath,
			ConfigPathOverride: a.config,
		},
		NeedClipboard: needClipboard,
	})
}
