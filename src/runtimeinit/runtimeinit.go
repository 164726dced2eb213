// Package runtimeinit wires configuration, logging, storage and the backend
// client the same way for every command.
package runtimeinit

import (
	"fmt"
	"log"

	"askshot/src/api"
	"askshot/src/auth"
	"askshot/src/clipboard"
	"askshot/src/config"
	"askshot/src/host"
	"askshot/src/logutil"
	"askshot/src/store"
)

type Options struct {
	LoadOptions  config.LoadOptions
	SetupLogging func(bool)
	// NeedClipboard fails the bootstrap when the clipboard cannot be used.
	NeedClipboard bool
}

// Env is everything a command needs after bootstrap.
type Env struct {
	Config *config.Config
	Store  *store.SQLite
	UI     *store.UIState
	Auth   *auth.Manager
	API    *api.Client
}

// Close releases the store.
func (e *Env) Close() error {
	if e == nil || e.Store == nil {
		return nil
	}
	return e.Store.Close()
}

func Bootstrap(opts Options) (*Env, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	setup := opts.SetupLogging
	if setup == nil {
		setup = logutil.Setup
	}
	setup(cfg.EnableFileLogging)

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", cfg.DBPath, err)
	}
	log.Printf("Store opened at %s", cfg.DBPath)

	if opts.NeedClipboard {
		if err := clipboard.Init(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to initialize clipboard: %w", err)
		}
	}

	am := auth.NewManager(s)
	return &Env{
		Config: cfg,
		Store:  s,
		UI:     store.NewUIState(s),
		Auth:   am,
		API:    api.New(cfg.APIBaseURL, cfg.RequestTimeout(), am),
	}, nil
}

// Browser is the host a resident drives: the tabs the controller injects
// into and the capturer the relay uses.
type Browser struct {
	Tabs     host.Tabs
	Capturer host.Capturer
	Chrome   *host.Chrome
}

// Close shuts the browser connection down.
func (b *Browser) Close() {
	if b != nil && b.Chrome != nil {
		b.Chrome.Close()
	}
}

// OpenBrowser connects to Chrome and picks the capture source.
func OpenBrowser(cfg *config.Config) (*Browser, error) {
	chrome, err := host.NewChrome(host.ChromeConfig{
		DebugURL: cfg.ChromeDebugURL,
		Headless: cfg.ChromeHeadless,
		Timeout:  cfg.CaptureTimeout(),
	})
	if err != nil {
		return nil, err
	}
	b := &Browser{Tabs: chrome, Capturer: chrome, Chrome: chrome}
	if cfg.CaptureSource == config.CaptureSourceDisplay {
		log.Printf("Capture source: display")
		b.Capturer = host.NewDisplay(chrome)
	}
	return b, nil
}
