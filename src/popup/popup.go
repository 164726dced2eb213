// Package popup holds the state the popup shows: the current screenshot,
// the conversation about it and the credit counters.
package popup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"askshot/src/api"
	"askshot/src/chat"
	"askshot/src/store"
)

const (
	Greeting         = "Hi! Ask me anything about the image."
	HistoryGreeting  = "Hi! Ask me anything about this image from your history."
	NoCreditsMessage = "You've used all your free credits. Please upgrade to continue using AskShot."
	FailureMessage   = "Sorry, I couldn't analyze that screenshot. Please try again."
)

// Sender of a conversation message
type Sender string

const (
	SenderAI   Sender = "ai"
	SenderUser Sender = "user"
)

// Message is one line of the conversation
type Message struct {
	Sender Sender
	Text   string
	At     time.Time
}

// HistoryLoader fetches a past conversation
type HistoryLoader interface {
	ScreenshotQuestions(ctx context.Context, id string) (*api.ScreenshotDetail, error)
}

// Model is the popup view state. It is safe for concurrent use.
type Model struct {
	mu  sync.Mutex
	ui  *store.UIState
	now func() time.Time

	view           store.View
	screenshot     string
	screenshotID   string
	messages       []Message
	freeTrialsLeft *int
	trialExpired   bool
	tier           string
}

// Snapshot is a copy of the model for display
type Snapshot struct {
	View           store.View
	Screenshot     string
	ScreenshotID   string
	Messages       []Message
	FreeTrialsLeft *int
	TrialExpired   bool
	Tier           string
}

// NewModel creates a model in the capture view with the default greeting.
func NewModel(ui *store.UIState) *Model {
	m := &Model{ui: ui, now: time.Now, view: store.ViewCapture, tier: "free"}
	m.messages = []Message{m.ai(Greeting)}
	return m
}

func (m *Model) ai(text string) Message {
	return Message{Sender: SenderAI, Text: text, At: m.now()}
}

// Snapshot returns a copy of the current state.
func (m *Model) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		View:         m.view,
		Screenshot:   m.screenshot,
		ScreenshotID: m.screenshotID,
		Messages:     append([]Message(nil), m.messages...),
		TrialExpired: m.trialExpired,
		Tier:         m.tier,
	}
	if m.freeTrialsLeft != nil {
		v := *m.freeTrialsLeft
		s.FreeTrialsLeft = &v
	}
	return s
}

// Load restores the model from the store when the popup opens. A stored
// screenshot always opens the chat view; its conversation is fetched when
// it already has a server id and hist is not nil.
func (m *Model) Load(ctx context.Context, hist HistoryLoader) error {
	image, hasImage, err := m.ui.Screenshot(ctx)
	if err != nil {
		return err
	}
	id, _, err := m.ui.ScreenshotID(ctx)
	if err != nil {
		return err
	}
	view, err := m.ui.View(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.view = view
	m.screenshot = ""
	m.screenshotID = ""
	m.messages = []Message{m.ai(Greeting)}
	if hasImage {
		m.screenshot = image
		m.screenshotID = id
		m.view = store.ViewChat
	}
	m.mu.Unlock()

	if hasImage && id != "" && hist != nil {
		m.loadConversation(ctx, id, hist)
	}
	return nil
}

// OnScreenshotReady switches to a freshly captured image: new conversation,
// no server id, chat view.
func (m *Model) OnScreenshotReady(ctx context.Context, image string) error {
	m.mu.Lock()
	m.screenshot = image
	m.screenshotID = ""
	m.messages = []Message{m.ai(Greeting)}
	m.view = store.ViewChat
	m.mu.Unlock()

	if err := m.ui.SetScreenshot(ctx, image); err != nil {
		return err
	}
	return m.ui.SetView(ctx, store.ViewChat)
}

// Clear drops the screenshot and returns to the capture view.
func (m *Model) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.screenshot = ""
	m.screenshotID = ""
	m.messages = []Message{m.ai(Greeting)}
	m.view = store.ViewCapture
	m.mu.Unlock()
	return m.ui.ClearScreenshot(ctx)
}

// SetView switches views without touching the screenshot.
func (m *Model) SetView(ctx context.Context, v store.View) error {
	if err := m.ui.SetView(ctx, v); err != nil {
		return err
	}
	m.mu.Lock()
	m.view = v
	m.mu.Unlock()
	return nil
}

// SelectFromHistory reopens a past screenshot with its conversation.
func (m *Model) SelectFromHistory(ctx context.Context, shot api.Screenshot, hist HistoryLoader) error {
	m.mu.Lock()
	m.screenshot = shot.ImageURL
	m.screenshotID = shot.ID
	m.view = store.ViewChat
	m.mu.Unlock()

	if err := m.ui.SetScreenshot(ctx, shot.ImageURL); err != nil {
		return err
	}
	if err := m.ui.SetScreenshotID(ctx, shot.ID); err != nil {
		return err
	}
	if err := m.ui.SetView(ctx, store.ViewChat); err != nil {
		return err
	}
	m.loadConversation(ctx, shot.ID, hist)
	return nil
}

func (m *Model) loadConversation(ctx context.Context, id string, hist HistoryLoader) {
	detail, err := hist.ScreenshotQuestions(ctx, id)
	msgs := []Message{m.ai(HistoryGreeting)}
	if err != nil {
		log.Printf("Popup: failed to load conversation %s: %v", id, err)
	} else {
		n := len(detail.Questions)
		for i, q := range detail.Questions {
			// Spread entries a minute apart so they keep their order.
			base := m.now().Add(-time.Duration(n-i) * time.Minute)
			msgs = append(msgs,
				Message{Sender: SenderUser, Text: q.Question, At: base},
				Message{Sender: SenderAI, Text: q.Answer, At: base.Add(time.Second)},
			)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screenshotID == id {
		m.messages = msgs
	}
}

// CanAsk reports whether a question may be sent now.
func (m *Model) CanAsk() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.screenshot == "":
		return chat.ErrNoScreenshot
	case m.trialExpired:
		return api.ErrNoCredits
	}
	return nil
}

// AddQuestion appends the user's question to the conversation.
func (m *Model) AddQuestion(question string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Sender: SenderUser, Text: strings.TrimSpace(question), At: m.now()})
}

// ApplyAnswer records the outcome of a question.
func (m *Model) ApplyAnswer(res chat.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if errors.Is(err, api.ErrNoCredits) {
			zero := 0
			m.freeTrialsLeft = &zero
			m.trialExpired = true
			m.messages = append(m.messages, m.ai(NoCreditsMessage))
			return
		}
		m.messages = append(m.messages, m.ai(FailureMessage))
		return
	}

	m.messages = append(m.messages, m.ai(res.Answer))
	if res.FreeTrialsLeft != nil {
		v := *res.FreeTrialsLeft
		m.freeTrialsLeft = &v
		m.trialExpired = res.IsExpired
	}
	if res.ScreenshotID != "" && m.screenshotID == "" {
		m.screenshotID = res.ScreenshotID
	}
}

// ApplyCredits records the counters read from the backend.
func (m *Model) ApplyCredits(c *api.Credits, t *api.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c != nil {
		v := c.FreeTrialsLeft
		m.freeTrialsLeft = &v
		m.trialExpired = c.IsExpired
	}
	if t != nil && t.Tier != "" {
		m.tier = t.Tier
	}
}

// Transcript renders the conversation as plain text.
func (s Snapshot) Transcript() string {
	var b strings.Builder
	for _, msg := range s.Messages {
		who := "AskShot"
		if msg.Sender == SenderUser {
			who = "You"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, msg.Text)
	}
	return b.String()
}
