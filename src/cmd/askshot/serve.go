package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"askshot/src/chat"
	"askshot/src/eventloop"
	"askshot/src/messages"
	"askshot/src/overlay"
	"askshot/src/process"
	"askshot/src/relay"
	"askshot/src/router"
	"askshot/src/runtimeinit"
)

const captureWait = 2 * time.Minute

// pipeline is the set of processes behind one browser connection.
type pipeline struct {
	manager *process.Manager
	loop    *eventloop.Loop
	browser *runtimeinit.Browser
}

func (p *pipeline) stop() {
	p.manager.StopAll()
	p.manager.GetRouter().Shutdown()
	p.browser.Close()
}

func startPipeline(ctx context.Context, env *runtimeinit.Env, resident bool) (*pipeline, error) {
	browser, err := runtimeinit.OpenBrowser(env.Config)
	if err != nil {
		return nil, err
	}

	r := router.NewRouter()
	m := process.NewManagerWithRouter(r)
	browser.Chrome.SetInjector(overlay.NewInjector(ctx, r, env.Config.CaptureTimeout()))

	loop := eventloop.New(eventloop.Options{
		Tabs:             browser.Tabs,
		UI:               env.UI,
		History:          env.API,
		InjectRetryDelay: env.Config.InjectRetryDelayDuration(),
		Deadline:         env.Config.RequestTimeout(),
		Resident:         resident,
		Workers:          1,
		Ask: func(ctx context.Context, question string) (chat.Result, error) {
			return chat.Ask(ctx, question, chat.Options{
				Deadline: env.Config.RequestTimeout(),
				Analyzer: env.API,
				UI:       env.UI,
			})
		},
	})

	for _, p := range []process.Process{relay.New(browser.Capturer, env.UI, env.Config.CaptureTimeout()), loop} {
		if err := m.Register(p); err != nil {
			browser.Close()
			return nil, err
		}
	}
	if err := m.StartAll(); err != nil {
		m.StopAll()
		browser.Close()
		return nil, err
	}
	return &pipeline{manager: m, loop: loop, browser: browser}, nil
}

func newServeCmd(a *app) *cobra.Command {
	var hotkeyCombo string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the resident: browser bridge, hotkey and CLI delegation",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(true)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := startPipeline(ctx, env, true)
			if err != nil {
				return fmt.Errorf("failed to start resident: %w", err)
			}
			if err := p.loop.Open(ctx); err != nil {
				log.Printf("Popup: initial load failed: %v", err)
			}

			combo := hotkeyCombo
			if combo == "" {
				combo = env.Config.Hotkey
			}
			if err := p.loop.StartHotkey(combo); err != nil {
				log.Printf("Hotkey disabled: %v", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				refreshCredits(gctx, env, p.loop)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				p.stop()
				return nil
			})
			fmt.Fprintln(cmd.OutOrStdout(), "askshot resident running; press Ctrl+C to stop")
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&hotkeyCombo, "hotkey", "", "Global capture hotkey (overrides HOTKEY)")
	return cmd
}

func refreshCredits(ctx context.Context, env *runtimeinit.Env, loop *eventloop.Loop) {
	if ok, _ := env.Auth.IsAuthenticated(ctx); !ok {
		return
	}
	credits, err := env.API.Credits(ctx)
	if err != nil {
		log.Printf("Credits refresh failed: %v", err)
	}
	tier, err := env.API.Tier(ctx)
	if err != nil {
		log.Printf("Tier refresh failed: %v", err)
	}
	loop.Model().ApplyCredits(credits, tier)
}

// captureOnce runs a private pipeline, starts a selection and waits for the
// cropped image to be stored.
func captureOnce(ctx context.Context, env *runtimeinit.Env) (string, error) {
	p, err := startPipeline(ctx, env, false)
	if err != nil {
		return "", err
	}
	defer p.stop()

	r := p.manager.GetRouter()
	watch, err := r.RegisterProcess(messages.ProcessCLI, 4)
	if err != nil {
		return "", err
	}

	if err := p.loop.Open(ctx); err != nil {
		return "", err
	}
	reply, err := r.Request(ctx, messages.ProcessCLI, messages.ProcessPopup, messages.TriggerCapture{Source: messages.ProcessCLI})
	if err != nil {
		return "", err
	}
	if res, ok := reply.(messages.CaptureTriggered); ok && res.Error != "" {
		return "", errors.New(res.Error)
	}

	ready, err := router.WaitForMessage(watch, messages.TypeScreenshotReady, captureWait)
	if err != nil {
		return "", fmt.Errorf("no region captured: %w", err)
	}
	return ready.Message.(messages.ScreenshotReady).Image, nil
}
