package messages

import (
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Message is the base interface for all cross-context messages
type Message interface {
	Type() string
}

// MessageType constants for type identification
const (
	TypeBeginSelection    = "begin-selection"
	TypeSelectionStarted  = "selection-started"
	TypeCancelSelection   = "cancel-selection"
	TypeRequestRawCapture = "request-raw-capture"
	TypeRawCapture        = "raw-capture"
	TypeDeliverCropped    = "deliver-cropped-image"
	TypeScreenshotReady   = "screenshot-ready"
	TypeTriggerCapture    = "trigger-capture"
	TypeCaptureTriggered  = "capture-triggered"
	TypeDieNow            = "DIENOW"
)

// BeginSelection - Controller -> Overlay, arms the selection overlay
type BeginSelection struct{}

func (m BeginSelection) Type() string { return TypeBeginSelection }

// SelectionStarted - Overlay acknowledgement for BeginSelection.
// AlreadyActive is set when a session was running and the command was ignored.
type SelectionStarted struct {
	AlreadyActive bool
}

func (m SelectionStarted) Type() string { return TypeSelectionStarted }

// CancelSelection - any -> Overlay, tears the overlay down. No response.
type CancelSelection struct{}

func (m CancelSelection) Type() string { return TypeCancelSelection }

// RequestRawCapture - Overlay -> Relay, asks for a full-viewport capture
type RequestRawCapture struct{}

func (m RequestRawCapture) Type() string { return TypeRequestRawCapture }

// RawCapture - Relay response to RequestRawCapture
type RawCapture struct {
	OK    bool
	Image []byte // PNG bytes of the visible tab
	Error string
}

func (m RawCapture) Type() string { return TypeRawCapture }

// DeliverCroppedImage - Overlay -> Relay, the cropped image as a PNG data URL
type DeliverCroppedImage struct {
	Image string
}

func (m DeliverCroppedImage) Type() string { return TypeDeliverCropped }

// ScreenshotReady - Relay -> all listeners, sent after the image was persisted
type ScreenshotReady struct {
	Image string
}

func (m ScreenshotReady) Type() string { return TypeScreenshotReady }

// TriggerCapture - asks the popup to run the capture controller (hotkey, resident CLI)
type TriggerCapture struct {
	Source string // process name of the requester: ProcessHotkey, ProcessCLI, ProcessPopup
}

func (m TriggerCapture) Type() string { return TypeTriggerCapture }

// CaptureTriggered - popup response to TriggerCapture
type CaptureTriggered struct {
	Error string
}

func (m CaptureTriggered) Type() string { return TypeCaptureTriggered }

// DIENOW - emergency shutdown message sent to all processes
type DIENOW struct{}

func (m DIENOW) Type() string { return TypeDieNow }

// MessageEnvelope wraps messages with metadata for routing.
// Envelopes created by NewRequest carry a reply slot that resolves exactly once:
// either with a response (Respond) or as closed without one (Done).
type MessageEnvelope struct {
	ID      string
	From    string  // Source process name
	To      string  // Destination process name ("*" for broadcast)
	Message Message // The actual message
	reply   *replySlot
}

type replySlot struct {
	once sync.Once
	ch   chan Reply
}

// Reply is what a requester receives. Closed is true when the handler
// finished without responding.
type Reply struct {
	Message Message
	Closed  bool
}

// NewEnvelope builds a fire-and-forget envelope.
func NewEnvelope(from, to string, msg Message) MessageEnvelope {
	return MessageEnvelope{ID: uuid.NewString(), From: from, To: to, Message: msg}
}

// NewRequest builds an envelope that expects exactly one reply.
func NewRequest(from, to string, msg Message) MessageEnvelope {
	env := NewEnvelope(from, to, msg)
	env.reply = &replySlot{ch: make(chan Reply, 1)}
	return env
}

// ExpectsReply reports whether the sender is waiting for a response.
func (e MessageEnvelope) ExpectsReply() bool { return e.reply != nil }

// Respond resolves the request with msg. Returns false if the request was
// already resolved or is fire-and-forget.
func (e MessageEnvelope) Respond(msg Message) bool {
	return e.resolve(Reply{Message: msg})
}

// Done closes the reply slot without a response. It is a no-op after Respond.
func (e MessageEnvelope) Done() bool {
	return e.resolve(Reply{Closed: true})
}

func (e MessageEnvelope) resolve(r Reply) bool {
	if e.reply == nil {
		return false
	}
	resolved := false
	e.reply.once.Do(func() {
		e.reply.ch <- r
		resolved = true
	})
	return resolved
}

// Replies returns the channel the requester waits on (nil for fire-and-forget).
func (e MessageEnvelope) Replies() <-chan Reply {
	if e.reply == nil {
		return nil
	}
	return e.reply.ch
}

// WithRecipient returns a copy addressed to another process sharing the same reply slot.
func (e MessageEnvelope) WithRecipient(to string) MessageEnvelope {
	e.To = to
	return e
}

// ProcessNames - constants for process identification
const (
	ProcessMain       = "main"
	ProcessBackground = "background"
	ProcessPopup      = "popup"
	ProcessCLI        = "cli"
	ProcessHotkey     = "hotkey"
	Broadcast         = "*"
	tabPrefix         = "tab:"
)

// TabProcess returns the endpoint name of the overlay injected into a tab.
func TabProcess(tabID int) string {
	return tabPrefix + strconv.Itoa(tabID)
}

// IsTabProcess reports whether name addresses a page-injected overlay.
func IsTabProcess(name string) bool {
	return strings.HasPrefix(name, tabPrefix) && len(name) > len(tabPrefix)
}

// TabFromProcess returns the tab id behind an overlay endpoint name.
func TabFromProcess(name string) (int, bool) {
	if !IsTabProcess(name) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(name, tabPrefix))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
