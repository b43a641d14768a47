package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessAdmin allows chat administrators and bot owners, in groups only.
	AccessAdmin
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "news_setup" or "news stop".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden keeps the command out of the platform menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute handles inline button data "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update   kit.Update
	Message  *kit.Message
	Callback *kit.Callback
	Chat     kit.ChatTarget
	FromID   int64
	IsGroup  bool

	Path    []string
	Command string // route, "cb:scope:action", or empty for plain messages
	// Args are positionals after flags were removed; RawArgs keeps every token.
	Args      []string
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	// ArgText is the untokenized text after the command word.
	ArgText string
	Payload string

	ReqID string
	Owner bool
	Log   logx.Logger
}

// Port is the transport surface the router needs.
type Port interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

type Config struct {
	Workers   int
	QueueSize int
	// Timeout applies to handlers without their own.
	Timeout time.Duration
}

// Router parses inbound updates into Requests and dispatches them to
// command, callback or plain-message handlers on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	root      *cmdNode
	alias     map[string]*cmdNode
	callbacks map[string]map[string]CallbackRoute
	onMessage HandlerFunc
	owners    []int64
	botName   string

	port Port
	log  logx.Logger
	cfg  Config
	jobs chan func()
}

func New(port Port, log logx.Logger, cfg Config) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = max(runtime.NumCPU(), 2)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Router{
		root:      newNode(""),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		port:      port,
		log:       log,
		cfg:       cfg,
		jobs:      make(chan func(), cfg.QueueSize),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) IsOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// SetBotUsername makes the router ignore "/cmd@otherbot".
func (r *Router) SetBotUsername(name string) {
	r.mu.Lock()
	r.botName = strings.TrimPrefix(name, "@")
	r.mu.Unlock()
}

// OnMessage sets the handler for messages that are not commands.
func (r *Router) OnMessage(h HandlerFunc) {
	r.mu.Lock()
	r.onMessage = h
	r.mu.Unlock()
}

// Register replaces the command and callback tables. /help is always added.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Description: "show help",
		Usage:       "/help [cmd] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := r.port.SendText(ctx, req.Chat, r.helpText(req.Args), &kit.SendOptions{ParseMode: kit.ParseMarkdown, DisablePreview: true})
			return err
		},
	})

	root := newNode("")
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.insert(route, c)
		// "news stop" is also reachable as /news_stop
		if len(route) > 1 {
			auto := strings.Join(route, "_")
			if _, exists := alias[auto]; !exists {
				alias[auto] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, c := range cbs {
		if c.Scope == "" || c.Action == "" || c.Handle == nil {
			continue
		}
		if cb[c.Scope] == nil {
			cb[c.Scope] = map[string]CallbackRoute{}
		}
		cb[c.Scope][c.Action] = c
	}

	r.mu.Lock()
	r.root, r.alias, r.callbacks = root, alias, cb
	r.mu.Unlock()
}

// Run dispatches updates until ctx ends or updates closes. Handlers run
// on cfg.Workers goroutines; a full queue rejects commands with a short
// reply and drops plain messages.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := r.cfg.Workers
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(r.jobs)))

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx, i)
		}()
	}
	defer func() {
		wg.Wait()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) worker(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.jobs:
			func() {
				// handlers already recover; this guards the glue around them
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in dispatcher worker", logx.Int("worker", idx), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update: up,
		Chat:   chat,
		FromID: fromID,
		ReqID:  rid,
		Owner:  r.IsOwner(fromID),
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
		Command: command,
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	r.mu.RLock()
	root, alias, onMessage, botName := r.root, r.alias, r.onMessage, r.botName
	r.mu.RUnlock()

	if !strings.HasPrefix(text, "/") {
		if onMessage == nil {
			return
		}
		req := r.newRequest(up, chat, msg.FromID, "")
		req.Message, req.IsGroup = msg, msg.IsGroup
		r.enqueue(ctx, req, onMessage, 0, AccessEveryone, false)
		return
	}

	first, rest, _ := strings.Cut(text, " ")
	parts := tokenizeCommandLine(rest)
	word, target := commandWord(first)
	if target != "" && botName != "" && !strings.EqualFold(target, botName) {
		return
	}

	var (
		node *cmdNode
		path []string
		args = parts
	)
	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		node, path = leaf, splitRoute(leaf.cmd.Route)
	} else {
		node, path, args = root.descend(word, parts)
	}

	if node == nil {
		// other bots' commands are common in groups
		if !msg.IsGroup {
			_, _ = r.port.SendText(ctx, chat, "unknown command. try /help", nil)
		}
		return
	}
	if node.cmd == nil {
		_, _ = r.port.SendText(ctx, chat, r.helpText(path), &kit.SendOptions{ParseMode: kit.ParseMarkdown, DisablePreview: true})
		return
	}

	cmd := *node.cmd
	req := r.newRequest(up, chat, msg.FromID, cmd.Route)
	req.Message, req.IsGroup = msg, msg.IsGroup
	req.Path = path
	req.RawArgs = args
	req.Args, req.Flags, req.BoolFlags = parseFlags(args)
	req.ArgText = argText(rest, len(path)-1)
	r.enqueue(ctx, req, cmd.Handle, cmd.Timeout, cmd.Access, true)
}

// argText drops the first skip whitespace-separated words (subcommand
// tokens) and returns the remainder untouched.
func argText(rest string, skip int) string {
	s := strings.TrimSpace(rest)
	for range skip {
		_, s, _ = strings.Cut(s, " ")
		s = strings.TrimSpace(s)
	}
	return s
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	scope, rest, ok := strings.Cut(strings.TrimSpace(cb.Data), ":")
	if !ok {
		return
	}
	action, payload, _ := strings.Cut(rest, ":")

	r.mu.RLock()
	route, ok := r.callbacks[scope][action]
	r.mu.RUnlock()
	if !ok {
		_ = r.port.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+scope+":"+action)
	req.Callback = cb
	req.IsGroup = cb.ChatID < 0
	req.Payload = payload
	h := func(ctx context.Context, req *Request) error {
		err := route.Handle(ctx, req)
		// stop the client spinner
		_ = r.port.AnswerCallback(ctx, cb.ID, "")
		return err
	}
	r.enqueue(ctx, req, h, route.Timeout, route.Access, false)
}

func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, access Access, replyBusy bool) {
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	final := Chain(h,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(timeout),
		r.mwAccess(access),
	)
	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		req.Log.Warn("dispatcher queue full; update dropped")
		switch {
		case req.Callback != nil:
			_ = r.port.AnswerCallback(ctx, req.Callback.ID, "busy")
		case replyBusy:
			_, _ = r.port.SendText(ctx, req.Chat, "busy, try again", nil)
		}
	}
}

func (req *Request) messageID() int {
	if req.Message != nil {
		return req.Message.ID
	}
	return 0
}
