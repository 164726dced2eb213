package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"askshot/src/messages"
)

var (
	// ErrNoListener is returned when the destination has no registered endpoint
	// (for a tab: the overlay script was never injected).
	ErrNoListener = errors.New("no listener registered")
	// ErrChannelClosed is returned when a request was dropped without a response.
	ErrChannelClosed = errors.New("message channel closed before a response was received")
	// ErrShuttingDown is returned once Shutdown was called.
	ErrShuttingDown = errors.New("router is shutting down")
)

const (
	sendTimeout      = 5 * time.Second
	broadcastTimeout = 1 * time.Second
)

// ChannelInfo holds information about a process channel
type ChannelInfo struct {
	Channel   chan messages.MessageEnvelope
	ProcessID string
	Active    bool
}

// Router handles message routing between isolated contexts
type Router struct {
	channels    map[string]*ChannelInfo
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	logMessages bool
}

// NewRouter creates a new message router
func NewRouter() *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		channels:    make(map[string]*ChannelInfo),
		ctx:         ctx,
		cancel:      cancel,
		logMessages: true,
	}
}

// RegisterProcess registers a process with the router
func (r *Router) RegisterProcess(processID string, bufferSize int) (<-chan messages.MessageEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[processID]; exists {
		return nil, fmt.Errorf("process %s already registered", processID)
	}

	ch := make(chan messages.MessageEnvelope, bufferSize)
	r.channels[processID] = &ChannelInfo{
		Channel:   ch,
		ProcessID: processID,
		Active:    true,
	}

	log.Printf("Router: Registered process %s with buffer size %d", processID, bufferSize)
	return ch, nil
}

// UnregisterProcess removes a process from the router. Requests still queued
// for it are closed so their senders do not wait for a reply that never comes.
func (r *Router) UnregisterProcess(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, exists := r.channels[processID]; exists {
		info.Active = false
		close(info.Channel)
		delete(r.channels, processID)
		closePending(info.Channel)
		log.Printf("Router: Unregistered process %s", processID)
	}
}

// IsRegistered reports whether processID currently has an endpoint.
func (r *Router) IsRegistered(processID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.channels[processID]
	return ok && info.Active
}

// Send delivers a fire-and-forget message to a specific process
func (r *Router) Send(envelope messages.MessageEnvelope) error {
	return r.SendContext(context.Background(), envelope)
}

// SendContext is Send bounded by ctx as well as the send timeout.
func (r *Router) SendContext(ctx context.Context, envelope messages.MessageEnvelope) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.logMessages {
		log.Printf("Router: %s -> %s: %s", envelope.From, envelope.To, envelope.Message.Type())
	}

	if envelope.To == messages.Broadcast {
		return r.broadcastMessage(envelope)
	}

	info, exists := r.channels[envelope.To]
	if !exists || !info.Active {
		return fmt.Errorf("process %s: %w", envelope.To, ErrNoListener)
	}

	select {
	case info.Channel <- envelope:
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("timeout sending message to process %s", envelope.To)
	case <-ctx.Done():
		return fmt.Errorf("sending %s to %s: %w", envelope.Message.Type(), envelope.To, ctx.Err())
	case <-r.ctx.Done():
		return ErrShuttingDown
	}
}

// Request sends msg to process `to` and waits for exactly one reply.
// It fails with ErrNoListener when nobody is registered, ErrChannelClosed when
// the handler finished without responding, or the context error on timeout.
func (r *Router) Request(ctx context.Context, from, to string, msg messages.Message) (messages.Message, error) {
	envelope := messages.NewRequest(from, to, msg)
	if err := r.SendContext(ctx, envelope); err != nil {
		return nil, err
	}

	select {
	case reply := <-envelope.Replies():
		if reply.Closed {
			return nil, fmt.Errorf("%s from %s: %w", msg.Type(), to, ErrChannelClosed)
		}
		return reply.Message, nil
	case <-ctx.Done():
		// Resolve the slot so a late handler response is discarded.
		envelope.Done()
		return nil, fmt.Errorf("waiting for %s reply from %s: %w", msg.Type(), to, ctx.Err())
	case <-r.ctx.Done():
		envelope.Done()
		return nil, ErrShuttingDown
	}
}

// Broadcast sends a message to all registered processes except the sender
func (r *Router) Broadcast(envelope messages.MessageEnvelope) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.logMessages {
		log.Printf("Router: Broadcasting %s from %s", envelope.Message.Type(), envelope.From)
	}

	_ = r.broadcastMessage(envelope)
}

func (r *Router) broadcastMessage(envelope messages.MessageEnvelope) error {
	var failures []string

	for processID, info := range r.channels {
		if !info.Active || processID == envelope.From {
			continue
		}

		select {
		case info.Channel <- envelope.WithRecipient(processID):
		case <-time.After(broadcastTimeout):
			failures = append(failures, fmt.Sprintf("timeout sending to %s", processID))
		case <-r.ctx.Done():
			return ErrShuttingDown
		}
	}

	if len(failures) > 0 {
		log.Printf("Router: Broadcast errors: %v", failures)
	}

	return nil
}

// GetActiveProcesses returns the sorted list of active process IDs
func (r *Router) GetActiveProcesses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []string
	for processID, info := range r.channels {
		if info.Active {
			active = append(active, processID)
		}
	}
	sort.Strings(active)
	return active
}

// SetMessageLogging enables or disables message logging
func (r *Router) SetMessageLogging(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logMessages = enabled
}

// Shutdown closes every endpoint and fails all in-flight requests
func (r *Router) Shutdown() {
	log.Printf("Router: Shutting down...")

	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for processID, info := range r.channels {
		if info.Active {
			info.Active = false
			close(info.Channel)
			closePending(info.Channel)
			log.Printf("Router: Closed channel for process %s", processID)
		}
	}

	r.channels = make(map[string]*ChannelInfo)

	log.Printf("Router: Shutdown complete")
}

// IsHealthy returns true if the router is functioning properly
func (r *Router) IsHealthy() bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
		return true
	}
}

func closePending(ch chan messages.MessageEnvelope) {
	for envelope := range ch {
		envelope.Done()
	}
}

// WaitForMessage waits for a specific message type from a channel with timeout
func WaitForMessage(ch <-chan messages.MessageEnvelope, messageType string, timeout time.Duration) (messages.MessageEnvelope, error) {
	deadline := time.After(timeout)

	for {
		select {
		case envelope, ok := <-ch:
			if !ok {
				return messages.MessageEnvelope{}, fmt.Errorf("channel closed waiting for message type %s", messageType)
			}
			if envelope.Message.Type() == messageType {
				return envelope, nil
			}
			envelope.Done()
		case <-deadline:
			return messages.MessageEnvelope{}, fmt.Errorf("timeout waiting for message type %s", messageType)
		}
	}
}

// DrainChannel drains all queued messages from a channel, closing pending requests
func DrainChannel(ch <-chan messages.MessageEnvelope) int {
	count := 0
	for {
		select {
		case envelope, ok := <-ch:
			if !ok {
				return count
			}
			envelope.Done()
			count++
		default:
			return count
		}
	}
}
