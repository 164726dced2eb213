// Package controller starts a capture from the popup: find the active tab,
// tell its overlay to begin, and inject the overlay first if it is missing.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"askshot/src/host"
	"askshot/src/messages"
	"askshot/src/router"
)

var (
	// ErrNoActiveTab is returned when there is no tab to capture.
	ErrNoActiveTab = host.ErrNoActiveTab
	// ErrInjectionFailed is returned when the overlay could not be injected.
	ErrInjectionFailed = errors.New("overlay injection failed")
	// ErrRetryDeliveryFailed is returned when begin-selection failed again after injection.
	ErrRetryDeliveryFailed = errors.New("begin-selection failed after injection")
)

const (
	// DefaultInjectRetryDelay is how long the overlay gets to register after injection.
	DefaultInjectRetryDelay = 100 * time.Millisecond
	defaultAckTimeout       = 2 * time.Second
)

// Options tune a Controller
type Options struct {
	InjectRetryDelay time.Duration
	AckTimeout       time.Duration
	// OnDelivered runs after begin-selection was accepted; the popup closes itself here.
	OnDelivered func()
}

// Controller triggers captures on behalf of one sender endpoint
type Controller struct {
	tabs        host.Tabs
	router      *router.Router
	from        string
	retryDelay  time.Duration
	ackTimeout  time.Duration
	onDelivered func()
}

// New creates a controller sending as from (normally the popup).
func New(tabs host.Tabs, r *router.Router, from string, opts Options) *Controller {
	c := &Controller{
		tabs:        tabs,
		router:      r,
		from:        from,
		retryDelay:  opts.InjectRetryDelay,
		ackTimeout:  opts.AckTimeout,
		onDelivered: opts.OnDelivered,
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultInjectRetryDelay
	}
	if c.ackTimeout <= 0 {
		c.ackTimeout = defaultAckTimeout
	}
	return c
}

// Trigger starts a selection in the active tab. It injects and retries at
// most once; every failure is terminal for this trigger.
func (c *Controller) Trigger(ctx context.Context) error {
	tab, err := c.tabs.ActiveTab(ctx)
	if err != nil {
		log.Printf("Controller: no tab to capture: %v", err)
		if errors.Is(err, host.ErrNoActiveTab) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNoActiveTab, err)
	}

	err = c.deliver(ctx, tab.ID)
	if err == nil {
		c.delivered(tab)
		return nil
	}
	log.Printf("Controller: tab %d not listening (%v), injecting overlay", tab.ID, err)

	if err := c.tabs.Inject(ctx, tab.ID); err != nil {
		log.Printf("Controller: injection into tab %d failed: %v", tab.ID, err)
		return fmt.Errorf("%w: %v", ErrInjectionFailed, err)
	}

	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrRetryDeliveryFailed, ctx.Err())
	}

	if err := c.deliver(ctx, tab.ID); err != nil {
		log.Printf("Controller: retry for tab %d failed: %v", tab.ID, err)
		return fmt.Errorf("%w: %v", ErrRetryDeliveryFailed, err)
	}
	c.delivered(tab)
	return nil
}

func (c *Controller) deliver(ctx context.Context, tabID int) error {
	ctx, cancel := context.WithTimeout(ctx, c.ackTimeout)
	defer cancel()
	reply, err := c.router.Request(ctx, c.from, messages.TabProcess(tabID), messages.BeginSelection{})
	if err != nil {
		return err
	}
	if ack, ok := reply.(messages.SelectionStarted); ok && ack.AlreadyActive {
		log.Printf("Controller: tab %d already selecting", tabID)
	}
	return nil
}

func (c *Controller) delivered(tab host.Tab) {
	log.Printf("Controller: selection started in tab %d", tab.ID)
	if c.onDelivered != nil {
		c.onDelivered()
	}
}
