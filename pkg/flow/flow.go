package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/aretw0/blueflow/internal/logging"
	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/session"
)

// GenericErrorText is sent when a turn could not be evaluated.
const GenericErrorText = "Something went wrong, please try again."

// Registry resolves node types and validates graphs.
type Registry interface {
	Resolve(typeName string) (ports.Behavior, error)
	Validate(ctx context.Context, graph domain.FlowGraph) error
}

// Flow executes a flow graph per chat.
type Flow struct {
	graph    domain.FlowGraph
	registry Registry
	store    ports.PersistenceBackend
	storage  ports.StorageBackend
	sessions *session.Manager

	logger         *slog.Logger
	contextEnabled bool
	moderator      ports.Moderator
	locker         ports.DistributedLocker
	hooks          domain.LifecycleHooks
	dedupTTL       time.Duration
	seen           *cache.Cache
	workers        int
	now            func() time.Time
}

// New validates graph against registry and returns a ready Flow.
// Validation runs exactly once, here.
func New(graph domain.FlowGraph, registry Registry, store ports.PersistenceBackend, storage ports.StorageBackend, opts ...Option) (*Flow, error) {
	f := &Flow{
		graph:    graph,
		registry: registry,
		store:    store,
		storage:  storage,
		logger:   logging.NewNop(),
		dedupTTL: DefaultDedupTTL,
		workers:  DefaultWorkers,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := registry.Validate(context.Background(), graph); err != nil {
		return nil, err
	}

	sessionOpts := []session.Option{session.WithLogger(f.logger)}
	if f.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(f.locker))
	}
	f.sessions = session.NewManager(store, sessionOpts...)
	if f.dedupTTL > 0 {
		f.seen = cache.New(f.dedupTTL, 2*f.dedupTTL)
	}
	return f, nil
}

// Graph returns the flow graph.
func (f *Flow) Graph() domain.FlowGraph { return f.graph }

// ProcessUpdate applies one update to its chat. Updates of one chat are
// serialised; distinct chats run in parallel.
func (f *Flow) ProcessUpdate(ctx context.Context, bot ports.Messenger, upd domain.Update) error {
	if upd.ChatID == 0 {
		return nil
	}
	if f.duplicate(upd.UpdateID) {
		f.logger.Debug("dropping duplicate update", "update_id", upd.UpdateID, "chat_id", upd.ChatID)
		return nil
	}
	err := f.sessions.WithLock(ctx, upd.ChatID, func(ctx context.Context) error {
		return f.turn(ctx, bot, upd)
	})
	if err != nil {
		f.forget(upd.UpdateID)
	}
	return err
}

// duplicate records the update id and reports whether it was seen before.
// Updates without an id are never considered duplicates.
func (f *Flow) duplicate(updateID int64) bool {
	if f.seen == nil || updateID == 0 {
		return false
	}
	return f.seen.Add(strconv.FormatInt(updateID, 10), struct{}{}, cache.DefaultExpiration) != nil
}

// forget drops a failed update from the dedup cache so a redelivery is
// processed again.
func (f *Flow) forget(updateID int64) {
	if f.seen == nil || updateID == 0 {
		return
	}
	f.seen.Delete(strconv.FormatInt(updateID, 10))
}

func (f *Flow) turn(ctx context.Context, bot ports.Messenger, upd domain.Update) error {
	chatID := upd.ChatID
	// Writes must not be torn by cancellation once the turn has started.
	persistCtx := context.WithoutCancel(ctx)

	state, created, err := f.sessions.LoadOrStart(persistCtx, chatID, f.now())
	if err != nil {
		return err
	}
	rec := newRecorder(bot, f.store, f.logger, state, f.now)
	rec.logInbound(persistCtx, upd)

	if created {
		f.logger.Info("chat started", "chat_id", chatID)
		return f.enter(ctx, rec, state)
	}
	if state.Terminated {
		f.logger.Debug("chat already finished, dropping update", "chat_id", chatID, "update_id", upd.UpdateID)
		return nil
	}

	if upd.Callback != nil {
		if err := bot.AnswerCallback(ctx, upd.Callback.ID, ""); err != nil {
			f.logger.Warn("failed to answer callback", "chat_id", chatID, "err", err)
		}
	}

	node, behavior, err := f.resolve(state.CurrentNodeID)
	if err != nil {
		return f.fail(ctx, rec, state, err)
	}
	cctx, err := f.loadContext(persistCtx, chatID)
	if err != nil {
		return f.fail(ctx, rec, state, err)
	}

	env := f.env(rec, node, state.Iteration, cctx)
	verdict, err := behavior.Handle(ctx, env, upd)
	if err != nil {
		return f.fail(ctx, rec, state, fmt.Errorf("handle node %d: %w", node.ID, err))
	}
	f.emitVerdict(ctx, chatID, node, verdict.Kind, state.Iteration)

	switch verdict.Kind {
	case domain.VerdictAdvance:
		if _, ok := f.graph.Node(verdict.Next); !ok {
			return f.fail(ctx, rec, state, fmt.Errorf("node %d advanced to unknown node %d", node.ID, verdict.Next))
		}
		if err := f.saveKV(persistCtx, state, verdict.Saved); err != nil {
			return f.fail(ctx, rec, state, err)
		}
		prev := *state
		state.Advance(verdict.Next, f.now())
		if err := f.store.SaveChatState(persistCtx, state); err != nil {
			*state = prev
			return f.fail(ctx, rec, state, fmt.Errorf("save chat state: %w", err))
		}
		f.logger.Debug("advanced", "chat_id", chatID, "from", node.ID, "to", state.CurrentNodeID)
		f.mergeContext(persistCtx, cctx, chatID, verdict.Saved)
		return f.enter(ctx, rec, state)

	case domain.VerdictRetry:
		prev := *state
		state.Retry(f.now())
		if err := f.store.SaveChatState(persistCtx, state); err != nil {
			*state = prev
			return f.fail(ctx, rec, state, fmt.Errorf("save chat state: %w", err))
		}
		if verdict.Reason != "" {
			if _, err := rec.SendText(ctx, domain.OutboundMessage{ChatID: chatID, Text: verdict.Reason}); err != nil {
				f.logger.Warn("failed to send retry reason", "chat_id", chatID, "node_id", node.ID, "err", err)
			}
		}
		if verdict.Reprompt {
			env.Iteration = state.Iteration
			if err := behavior.Enter(ctx, env); err != nil {
				return f.enterFailed(ctx, node, chatID, err)
			}
		}
		return nil

	case domain.VerdictTerminal:
		if err := f.saveKV(persistCtx, state, verdict.Saved); err != nil {
			return f.fail(ctx, rec, state, err)
		}
		prev := *state
		state.Terminate(f.now())
		if err := f.store.SaveChatState(persistCtx, state); err != nil {
			*state = prev
			return f.fail(ctx, rec, state, fmt.Errorf("save chat state: %w", err))
		}
		f.logger.Info("chat finished", "chat_id", chatID, "node_id", node.ID)
		f.mergeContext(persistCtx, cctx, chatID, verdict.Saved)
		return nil

	default:
		return f.fail(ctx, rec, state, fmt.Errorf("node %d returned unknown verdict %v", node.ID, verdict.Kind))
	}
}

// enter runs Enter for the chat's current node.
func (f *Flow) enter(ctx context.Context, rec *recorder, state *domain.ChatState) error {
	node, behavior, err := f.resolve(state.CurrentNodeID)
	if err != nil {
		return err
	}
	cctx, err := f.loadContext(context.WithoutCancel(ctx), state.ChatID)
	if err != nil {
		f.logger.Warn("failed to load context, entering without it", "chat_id", state.ChatID, "err", err)
		cctx = nil
	}
	if f.hooks.OnNodeEnter != nil {
		f.hooks.OnNodeEnter(ctx, &domain.NodeEvent{
			Timestamp: f.now(),
			ChatID:    state.ChatID,
			NodeID:    node.ID,
			NodeType:  node.Type,
		})
	}
	if err := behavior.Enter(ctx, f.env(rec, node, state.Iteration, cctx)); err != nil {
		return f.enterFailed(ctx, node, state.ChatID, err)
	}
	return nil
}

func (f *Flow) enterFailed(ctx context.Context, node domain.Node, chatID int64, err error) error {
	if ctx.Err() == nil {
		f.logger.Error("failed to enter node", "chat_id", chatID, "node_id", node.ID, "node_type", node.Type, "err", err)
	}
	return fmt.Errorf("enter node %d: %w", node.ID, err)
}

// fail reports a turn that could not be evaluated. ChatState is left as it
// was committed; the user gets a generic prompt unless the turn was cancelled.
func (f *Flow) fail(ctx context.Context, rec *recorder, state *domain.ChatState, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return err
	}
	f.logger.Error("turn failed", "chat_id", state.ChatID, "node_id", state.CurrentNodeID, "err", err)
	if _, sendErr := rec.SendText(ctx, domain.OutboundMessage{ChatID: state.ChatID, Text: GenericErrorText}); sendErr != nil {
		f.logger.Warn("failed to send error prompt", "chat_id", state.ChatID, "err", sendErr)
	}
	return err
}

func (f *Flow) resolve(nodeID int) (domain.Node, ports.Behavior, error) {
	node, ok := f.graph.Node(nodeID)
	if !ok {
		return domain.Node{}, nil, fmt.Errorf("chat is on node %d which is not in the flow", nodeID)
	}
	behavior, err := f.registry.Resolve(node.Type)
	if err != nil {
		return node, nil, fmt.Errorf("node %d: %w", nodeID, err)
	}
	return node, behavior, nil
}

func (f *Flow) env(rec *recorder, node domain.Node, iteration int, cctx *domain.Context) *ports.Env {
	return &ports.Env{
		ChatID:    rec.state.ChatID,
		Node:      node,
		Iteration: iteration,
		Bot:       rec,
		Store:     f.store,
		Storage:   f.storage,
		Moderator: f.moderator,
		Context:   cctx.Clone(),
		Logger:    f.logger.With("chat_id", rec.state.ChatID, "node_id", node.ID),
	}
}

func (f *Flow) saveKV(ctx context.Context, state *domain.ChatState, saved *domain.SavedValue) error {
	if saved == nil {
		return nil
	}
	err := f.store.SaveKVEntry(ctx, &domain.KVEntry{
		ChatID:    state.ChatID,
		NodeID:    state.CurrentNodeID,
		Key:       saved.Key,
		Value:     saved.Value,
		Iteration: state.Iteration,
		AttemptNo: state.Iteration + 1,
		CreatedAt: f.now(),
	})
	if err != nil {
		return fmt.Errorf("save kv %q: %w", saved.Key, err)
	}
	return nil
}

func (f *Flow) emitVerdict(ctx context.Context, chatID int64, node domain.Node, kind domain.VerdictKind, iteration int) {
	if f.hooks.OnVerdict == nil {
		return
	}
	f.hooks.OnVerdict(ctx, &domain.VerdictEvent{
		Timestamp: f.now(),
		ChatID:    chatID,
		NodeID:    node.ID,
		NodeType:  node.Type,
		Kind:      kind,
		Iteration: iteration,
	})
}
