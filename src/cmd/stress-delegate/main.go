package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"askshot/src/singleinstance"
)

type stressOptions struct {
	n        int
	mode     string
	question string
	deadline time.Duration
}

type counts struct {
	ok, busy, notDelegated, failed int32
}

type delegateFunc func(ctx context.Context, req singleinstance.Request) (bool, string, error)

func main() {
	if err := newRootCmd(&stressOptions{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-delegate",
		Short:         "Stress test delegation to the askshot resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			start := time.Now()
			c := stress(opts.n, opts.deadline, req, singleinstance.NewClient().Delegate)
			report(cmd.OutOrStdout(), opts.n, c, time.Since(start))
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().StringVar(&opts.mode, "mode", "ask", "ask|capture")
	cmd.Flags().StringVar(&opts.question, "question", "What is in this image?", "question sent in ask mode")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client timeout")

	return cmd
}

func (o stressOptions) request() (singleinstance.Request, error) {
	switch o.mode {
	case "ask":
		return singleinstance.Request{Command: singleinstance.CommandAsk, OutputToStdout: true, Question: o.question}, nil
	case "capture":
		return singleinstance.Request{Command: singleinstance.CommandCapture}, nil
	}
	return singleinstance.Request{}, fmt.Errorf("unknown mode %q", o.mode)
}

// stress fires n concurrent delegations. A resident that is already
// answering rejects the rest as busy.
func stress(n int, deadline time.Duration, req singleinstance.Request, delegate delegateFunc) counts {
	var wg sync.WaitGroup
	var c counts
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deadline)
			defer cancel()
			delegated, _, err := delegate(ctx, req)
			switch {
			case err != nil && strings.Contains(strings.ToLower(err.Error()), "busy"):
				atomic.AddInt32(&c.busy, 1)
			case err != nil:
				atomic.AddInt32(&c.failed, 1)
			case !delegated:
				atomic.AddInt32(&c.notDelegated, 1)
			default:
				atomic.AddInt32(&c.ok, 1)
			}
		}()
	}
	wg.Wait()
	return c
}

func report(w io.Writer, n int, c counts, elapsed time.Duration) {
	fmt.Fprintf(w, "launched=%d ok=%d busy=%d no-resident=%d err=%d elapsed=%s\n",
		n, c.ok, c.busy, c.notDelegated, c.failed, elapsed)
}
