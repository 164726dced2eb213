// Package eventloop runs the popup process: it owns the popup endpoint,
// drives the capture controller and serves resident-instance clients.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"askshot/src/chat"
	"askshot/src/controller"
	"askshot/src/host"
	"askshot/src/hotkey"
	"askshot/src/messages"
	"askshot/src/popup"
	"askshot/src/router"
	"askshot/src/singleinstance"
	"askshot/src/store"
	"askshot/src/worker"
)

const (
	inboxSize       = 16
	defaultDeadline = 30 * time.Second
)

// ErrBusy is reported when a question is already being answered.
var ErrBusy = errors.New("busy, please retry")

// Options wire the loop to its collaborators
type Options struct {
	Tabs    host.Tabs
	UI      *store.UIState
	History popup.HistoryLoader
	// Ask answers questions on the worker pool. Nil disables ASK requests.
	Ask              worker.AskFunc
	Workers          int
	Deadline         time.Duration
	InjectRetryDelay time.Duration
	// Resident starts the single-instance server.
	Resident bool
	// AnswerTarget receives answers to questions asked from the popup itself.
	AnswerTarget chat.ResultTarget
}

// Loop is the single-threaded coordinator of the popup process.
type Loop struct {
	opts   Options
	model  *popup.Model
	ctrl   *controller.Controller
	pool   *worker.Pool
	router *router.Router

	hotkeyCh  chan struct{}
	openCh    chan (<-chan messages.MessageEnvelope)
	results   chan result
	triggered chan triggerResult
	asks      chan askRequest
	busy      bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type result struct {
	question string
	res      chat.Result
	err      error
	target   chat.ResultTarget
	conn     singleinstance.Conn
	cancel   context.CancelFunc
}

type askRequest struct {
	question string
	errCh    chan error
}

type triggerResult struct {
	source string
	err    error
	env    messages.MessageEnvelope
	conn   singleinstance.Conn
}

// New creates the popup loop. The popup starts closed.
func New(opts Options) *Loop {
	if opts.Deadline <= 0 {
		opts.Deadline = defaultDeadline
	}
	l := &Loop{
		opts:      opts,
		model:     popup.NewModel(opts.UI),
		hotkeyCh:  make(chan struct{}, 4),
		openCh:    make(chan (<-chan messages.MessageEnvelope), 1),
		results:   make(chan result, 1),
		triggered: make(chan triggerResult, 4),
		asks:      make(chan askRequest),
	}
	if opts.Ask != nil {
		l.pool = worker.New(opts.Workers, opts.Ask)
	}
	return l
}

// Model exposes the popup view state.
func (l *Loop) Model() *popup.Model { return l.model }

// Name implements process.Process.
func (l *Loop) Name() string { return messages.ProcessPopup }

// Start begins the loop. The popup endpoint is registered by Open.
func (l *Loop) Start(ctx context.Context, r *router.Router) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("popup loop already running")
	}

	var srv singleinstance.Server
	if l.opts.Resident {
		srv = singleinstance.NewServer()
		if err := srv.Start(ctx); err != nil {
			return err
		}
		log.Printf("Resident listening on 127.0.0.1:%d", srv.Port())
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.router = r
	l.ctrl = controller.New(l.opts.Tabs, r, messages.ProcessPopup, controller.Options{
		InjectRetryDelay: l.opts.InjectRetryDelay,
		OnDelivered:      l.Close,
	})
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go l.run(runCtx, srv)
	return nil
}

// Stop closes the popup and waits for the loop to exit.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	return nil
}

// IsRunning implements process.Process.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// IsOpen reports whether the popup endpoint is registered.
func (l *Loop) IsOpen() bool {
	r := l.endpoint()
	return r != nil && r.IsRegistered(messages.ProcessPopup)
}

func (l *Loop) endpoint() *router.Router {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.router
}

// Open shows the popup: the endpoint is registered and the model reloaded
// from the store. Opening an open popup only reloads it.
func (l *Loop) Open(ctx context.Context) error {
	if !l.IsRunning() {
		return fmt.Errorf("popup loop is not running")
	}
	r := l.endpoint()
	if !r.IsRegistered(messages.ProcessPopup) {
		inbox, err := r.RegisterProcess(messages.ProcessPopup, inboxSize)
		if err != nil {
			return err
		}
		select {
		case l.openCh <- inbox:
		case <-ctx.Done():
			r.UnregisterProcess(messages.ProcessPopup)
			return ctx.Err()
		}
	}
	return l.model.Load(ctx, l.opts.History)
}

// Close hides the popup. Broadcasts sent while it is closed are not seen;
// the next Open reads the store instead.
func (l *Loop) Close() {
	r := l.endpoint()
	if r != nil && r.IsRegistered(messages.ProcessPopup) {
		log.Printf("Popup: closing")
		r.UnregisterProcess(messages.ProcessPopup)
	}
}

// StartHotkey registers a global hotkey and posts events into the loop.
func (l *Loop) StartHotkey(combo string) error {
	if combo == "" {
		return nil
	}
	return hotkey.Listen(combo, l.PressHotkey)
}

// PressHotkey posts a hotkey event without blocking.
func (l *Loop) PressHotkey() {
	select {
	case l.hotkeyCh <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context, srv singleinstance.Server) {
	defer func() {
		l.Close()
		if srv != nil {
			_ = srv.Close()
		}
		if l.pool != nil {
			l.pool.Close()
		}
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(l.done)
	}()

	var reqCh chan singleinstance.Conn
	if srv != nil {
		reqCh = make(chan singleinstance.Conn, 4)
		go func() {
			defer close(reqCh)
			for {
				conn, err := srv.Next(ctx)
				if err != nil {
					return
				}
				reqCh <- conn
			}
		}()
	}

	var inbox <-chan messages.MessageEnvelope
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-l.openCh:
			inbox = in
		case env, ok := <-inbox:
			if !ok {
				inbox = nil
				continue
			}
			if _, die := env.Message.(messages.DIENOW); die {
				env.Done()
				return
			}
			l.handleMessage(ctx, env)
		case <-l.hotkeyCh:
			l.trigger(ctx, messages.ProcessHotkey, messages.MessageEnvelope{}, nil)
		case conn, ok := <-reqCh:
			if !ok {
				reqCh = nil
				continue
			}
			l.handleConn(ctx, conn)
		case tr := <-l.triggered:
			l.handleTriggered(tr)
		case req := <-l.asks:
			target := l.opts.AnswerTarget
			if target == nil {
				target = chat.ClipboardTarget{}
			}
			req.errCh <- l.submit(ctx, req.question, target, nil)
		case res := <-l.results:
			l.handleResult(res)
		}
	}
}

func (l *Loop) handleMessage(ctx context.Context, env messages.MessageEnvelope) {
	switch msg := env.Message.(type) {
	case messages.ScreenshotReady:
		if err := l.model.OnScreenshotReady(ctx, msg.Image); err != nil {
			log.Printf("Popup: failed to store screenshot: %v", err)
		}
		env.Done()
	case messages.TriggerCapture:
		l.trigger(ctx, msg.Source, env, nil)
	default:
		log.Printf("Popup: ignoring %s from %s", env.Message.Type(), env.From)
		env.Done()
	}
}

// trigger runs the controller off the loop so begin-selection acks and the
// injection delay do not stall the inbox. The outcome comes back through
// l.triggered.
func (l *Loop) trigger(ctx context.Context, source string, env messages.MessageEnvelope, conn singleinstance.Conn) {
	log.Printf("Popup: capture requested by %s", source)
	go func() {
		err := l.ctrl.Trigger(ctx)
		select {
		case l.triggered <- triggerResult{source: source, err: err, env: env, conn: conn}:
		case <-ctx.Done():
			env.Done()
			if conn != nil {
				_ = conn.RespondError("shutting down")
				_ = conn.Close()
			}
		}
	}()
}

func (l *Loop) handleTriggered(tr triggerResult) {
	if tr.err != nil {
		log.Printf("Popup: capture from %s failed: %v", tr.source, tr.err)
	}
	if tr.env.ExpectsReply() {
		reply := messages.CaptureTriggered{}
		if tr.err != nil {
			reply.Error = tr.err.Error()
		}
		tr.env.Respond(reply)
	}
	if tr.conn != nil {
		if tr.err != nil {
			_ = tr.conn.RespondError(tr.err.Error())
		} else {
			_ = tr.conn.RespondSuccess("")
		}
		_ = tr.conn.Close()
	}
}

func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	req := conn.Request()
	switch req.Command {
	case singleinstance.CommandCapture:
		l.trigger(ctx, messages.ProcessCLI, messages.MessageEnvelope{}, conn)
	case singleinstance.CommandAsk:
		target := chat.DelegatedTarget{Conn: conn, OutputToStdout: req.OutputToStdout}
		// A closed popup missed screenshot-ready; read the store like Open does.
		if !l.IsOpen() {
			if err := l.model.Load(ctx, nil); err != nil {
				log.Printf("Popup: failed to reload state: %v", err)
			}
		}
		if err := l.submit(ctx, req.Question, target, conn); err != nil {
			_ = target.OnFailure(err)
			_ = conn.Close()
		}
	default:
		_ = conn.RespondError(fmt.Sprintf("unknown command %q", req.Command))
		_ = conn.Close()
	}
}

// Ask submits a question from the popup itself. The answer is applied to
// the model and handed to Options.AnswerTarget.
func (l *Loop) Ask(ctx context.Context, question string) error {
	req := askRequest{question: question, errCh: make(chan error, 1)}
	select {
	case l.asks <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) submit(ctx context.Context, question string, target chat.ResultTarget, conn singleinstance.Conn) error {
	if l.pool == nil {
		return errors.New("asking is not configured")
	}
	if l.busy {
		return ErrBusy
	}
	if err := l.model.CanAsk(); err != nil {
		return err
	}

	jobCtx, cancel := context.WithTimeout(ctx, l.opts.Deadline)
	l.busy = true
	l.model.AddQuestion(question)
	submitted := l.pool.Submit(jobCtx, question, func(res chat.Result, err error) {
		select {
		case l.results <- result{question: question, res: res, err: err, target: target, conn: conn, cancel: cancel}:
		case <-ctx.Done():
			cancel()
		}
	})
	if !submitted {
		cancel()
		l.busy = false
		return ErrBusy
	}
	return nil
}

func (l *Loop) handleResult(res result) {
	defer func() {
		l.busy = false
		if res.cancel != nil {
			res.cancel()
		}
		if res.conn != nil {
			_ = res.conn.Close()
		}
	}()

	l.model.ApplyAnswer(res.res, res.err)
	if res.target == nil {
		return
	}
	if res.err != nil {
		log.Printf("Popup: question (%d chars) failed: %v", len(res.question), res.err)
		_ = res.target.OnFailure(res.err)
		return
	}
	if err := res.target.OnSuccess(res.res.Answer); err != nil {
		log.Printf("Popup: answer delivery failed: %v", err)
		_ = res.target.OnFailure(err)
	}
}
