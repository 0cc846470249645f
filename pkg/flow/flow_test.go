package flow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/blueflow/internal/adapters/memory"
	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/flow"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/telegram"
)

const onboardingFlow = `{
	"0": {"type": "cutscene", "node_text": "Welcome", "next": 1},
	"1": {"type": "text", "node_text": "Tell us about yourself", "key_to_save": "bio", "min_words": 4, "next": 2},
	"2": {"type": "choice", "node_text": "Continue?", "choices": ["yes", "no"], "next_for_choice": {"yes": 3, "no": 4}},
	"3": {"type": "cutscene", "node_text": "Great"},
	"4": {"type": "cutscene", "node_text": "Bye"}
}`

type spyRegistry struct {
	validations atomic.Int32
	err         error
}

func (s *spyRegistry) Resolve(string) (ports.Behavior, error) { return nil, errors.New("unused") }

func (s *spyRegistry) Validate(context.Context, domain.FlowGraph) error {
	s.validations.Add(1)
	return s.err
}

func TestNew_ValidatesOnce(t *testing.T) {
	spy := &spyRegistry{}
	graph := domain.NewFlowGraph(domain.Node{ID: 0, Type: "cutscene", Text: "Bye"})

	_, err := flow.New(graph, spy, memory.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), spy.validations.Load())

	spy.err = errors.New("dangling")
	_, err = flow.New(graph, spy, memory.New(), nil)
	assert.ErrorContains(t, err, "dangling")
}

func TestProcessUpdate_FreshChatEntersStartNode(t *testing.T) {
	f, store := newFlow(t, `{"0": {"type": "cutscene", "node_text": "The End"}}`)
	bot := newFakeBot()
	ctx := context.Background()

	require.NoError(t, f.ProcessUpdate(ctx, bot, text(123, "/start")))
	assert.Equal(t, []string{"The End"}, bot.texts(123))

	state, err := store.LoadChatState(ctx, 123)
	require.NoError(t, err)
	assert.Equal(t, 0, state.CurrentNodeID)
	assert.Equal(t, 0, state.Iteration)
	assert.False(t, state.Terminated, "the triggering update is not an answer")

	// Any input on a terminal cutscene ends the flow.
	require.NoError(t, f.ProcessUpdate(ctx, bot, text(123, "ok")))
	state, err = store.LoadChatState(ctx, 123)
	require.NoError(t, err)
	assert.True(t, state.Terminated)

	// A finished chat is silent.
	require.NoError(t, f.ProcessUpdate(ctx, bot, text(123, "hello?")))
	assert.Equal(t, []string{"The End"}, bot.texts(123))
	after, err := store.LoadChatState(ctx, 123)
	require.NoError(t, err)
	assert.Equal(t, state, after)
}

func TestProcessUpdate_AdvanceRetryAndKV(t *testing.T) {
	f, store := newFlow(t, onboardingFlow)
	bot := newFakeBot()
	ctx := context.Background()
	const chat = 7

	require.NoError(t, f.ProcessUpdate(ctx, bot, text(chat, "/start")))
	require.NoError(t, f.ProcessUpdate(ctx, bot, text(chat, "next")))
	assert.Equal(t, "Tell us about yourself", bot.last(chat).Text)

	require.NoError(t, f.ProcessUpdate(ctx, bot, text(chat, "too short")))
	state, err := store.LoadChatState(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentNodeID, "retry keeps the node")
	assert.Equal(t, 1, state.Iteration, "retry counts the attempt")
	assert.Contains(t, bot.last(chat).Text, "at least 4 words")

	require.NoError(t, f.ProcessUpdate(ctx, bot, text(chat, "this has five words ok")))
	state, err = store.LoadChatState(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, 2, state.CurrentNodeID)
	assert.Equal(t, 0, state.Iteration, "advance resets the attempt counter")

	kv, err := store.LoadKVEntry(ctx, chat, 1, "bio", 1)
	require.NoError(t, err)
	assert.Equal(t, "this has five words ok", kv.Value)
	assert.Equal(t, 2, kv.AttemptNo)

	last := bot.last(chat)
	assert.Equal(t, "Continue?", last.Text)
	assert.Equal(t, []string{"yes", "no"}, last.Choices)
}

func TestProcessUpdate_ChoiceRepromptAndCallback(t *testing.T) {
	f, store := newFlow(t, onboardingFlow)
	bot := newFakeBot()
	ctx := context.Background()
	const chat = 8

	for _, in := range []string{"/start", "next", "this has five words ok"} {
		require.NoError(t, f.ProcessUpdate(ctx, bot, text(chat, in)))
	}

	require.NoError(t, f.ProcessUpdate(ctx, bot, text(chat, "maybe")))
	msgs := bot.texts(chat)
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Contains(t, msgs[len(msgs)-2], "Please pick one of")
	assert.Equal(t, "Continue?", msgs[len(msgs)-1], "buttons are shown again")

	require.NoError(t, f.ProcessUpdate(ctx, bot, domain.Update{ChatID: chat, Callback: &domain.Callback{ID: "cb-1", Data: "no"}}))
	state, err := store.LoadChatState(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, 4, state.CurrentNodeID)
	assert.Equal(t, "Bye", bot.last(chat).Text)
	assert.Equal(t, []string{"cb-1"}, bot.answered)
}

func TestProcessUpdate_MessageLog(t *testing.T) {
	f, store := newFlow(t, onboardingFlow)
	bot := newFakeBot()
	ctx := context.Background()

	require.NoError(t, f.ProcessUpdate(ctx, bot, domain.Update{ChatID: 9, MessageID: 100, Text: "/start"}))
	require.NoError(t, f.ProcessUpdate(ctx, bot, domain.Update{ChatID: 9, MessageID: 101, Text: "go"}))

	msgs := store.Messages(9)
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.DirectionIn, msgs[0].Direction)
	assert.Equal(t, int64(100), msgs[0].PlatformMessageID)
	assert.Equal(t, domain.DirectionOut, msgs[1].Direction)
	assert.Equal(t, "Welcome", msgs[1].Body)
	assert.Equal(t, "go", msgs[2].Body)
	assert.Equal(t, "Tell us about yourself", msgs[3].Body)
	assert.Equal(t, 1, msgs[3].NodeID, "outbound messages carry the node they were sent from")
}

func TestProcessUpdate_Dedup(t *testing.T) {
	store := memory.New()
	f, err := flow.New(graphFromJSON(t, onboardingFlow), builtinRegistry(t), store, nil)
	require.NoError(t, err)
	bot := newFakeBot()
	ctx := context.Background()

	upd := domain.Update{UpdateID: 55, ChatID: 3, Text: "/start"}
	require.NoError(t, f.ProcessUpdate(ctx, bot, upd))
	require.NoError(t, f.ProcessUpdate(ctx, bot, domain.Update{UpdateID: 56, ChatID: 3, Text: "go"}))
	require.NoError(t, f.ProcessUpdate(ctx, bot, domain.Update{UpdateID: 56, ChatID: 3, Text: "go"}))

	state, err := store.LoadChatState(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentNodeID)
	assert.Equal(t, 0, state.Iteration, "the redelivered update was not handled again")
}

type failingBehavior struct{}

func (failingBehavior) Enter(ctx context.Context, env *ports.Env) error {
	_, err := env.Bot.SendText(ctx, domain.OutboundMessage{ChatID: env.ChatID, Text: "prompt"})
	return err
}

func (failingBehavior) Handle(context.Context, *ports.Env, domain.Update) (domain.Verdict, error) {
	return domain.Verdict{}, errors.New("database is on fire")
}

func TestProcessUpdate_BehaviorErrorKeepsState(t *testing.T) {
	reg := builtinRegistry(t)
	require.NoError(t, reg.Register("flaky", failingBehavior{}))
	store := memory.New()
	graph := domain.NewFlowGraph(domain.Node{ID: 0, Type: "flaky", Text: "x"})
	f, err := flow.New(graph, reg, store, nil)
	require.NoError(t, err)
	bot := newFakeBot()
	ctx := context.Background()

	require.NoError(t, f.ProcessUpdate(ctx, bot, text(1, "/start")))
	before, err := store.LoadChatState(ctx, 1)
	require.NoError(t, err)

	err = f.ProcessUpdate(ctx, bot, text(1, "answer"))
	assert.ErrorContains(t, err, "database is on fire")
	assert.Equal(t, flow.GenericErrorText, bot.last(1).Text)

	after, err := store.LoadChatState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProcessUpdate_ContextInterpolation(t *testing.T) {
	f, store := newFlow(t, `{
		"0": {"type": "text", "node_text": "Your name?", "key_to_save": "name", "next": 1},
		"1": {"type": "cutscene", "node_text": "Nice to meet you, {{.name}}!"}
	}`, flow.WithContext(true))
	bot := newFakeBot()
	ctx := context.Background()

	require.NoError(t, f.ProcessUpdate(ctx, bot, text(5, "/start")))
	require.NoError(t, f.ProcessUpdate(ctx, bot, text(5, "Ada")))
	assert.Equal(t, "Nice to meet you, Ada!", bot.last(5).Text)

	c, err := store.LoadContext(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Version)
	assert.Equal(t, "Ada", c.Value["name"])
}

// conflictingStore makes the first n context writes lose a race.
type conflictingStore struct {
	*memory.Store
	conflicts atomic.Int32
}

func (s *conflictingStore) SaveContext(ctx context.Context, c *domain.Context, expected int) error {
	if s.conflicts.Add(-1) >= 0 {
		// Someone else wrote in between.
		other := domain.NewContext(c.ChatID)
		if cur, err := s.Store.LoadContext(ctx, c.ChatID); err == nil {
			other = cur
		}
		other.Value["other"] = "writer"
		if err := s.Store.SaveContext(ctx, other, other.Version); err != nil {
			return err
		}
		return &domain.ContextConflictError{ChatID: c.ChatID, Expected: expected, Actual: other.Version}
	}
	return s.Store.SaveContext(ctx, c, expected)
}

func TestProcessUpdate_ContextConflict(t *testing.T) {
	doc := `{
		"0": {"type": "text", "node_text": "Your name?", "key_to_save": "name", "next": 1},
		"1": {"type": "cutscene", "node_text": "Done"}
	}`

	t.Run("one conflict is merged", func(t *testing.T) {
		store := &conflictingStore{Store: memory.New()}
		store.conflicts.Store(1)
		f, err := flow.New(graphFromJSON(t, doc), builtinRegistry(t), store, nil, flow.WithContext(true))
		require.NoError(t, err)
		bot := newFakeBot()
		ctx := context.Background()

		require.NoError(t, f.ProcessUpdate(ctx, bot, text(2, "/start")))
		require.NoError(t, f.ProcessUpdate(ctx, bot, text(2, "Ada")))

		c, err := store.LoadContext(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "Ada", c.Value["name"])
		assert.Equal(t, "writer", c.Value["other"])
		assert.Equal(t, 2, c.Version)
	})

	t.Run("repeated conflict does not fail the turn", func(t *testing.T) {
		store := &conflictingStore{Store: memory.New()}
		store.conflicts.Store(2)
		f, err := flow.New(graphFromJSON(t, doc), builtinRegistry(t), store, nil, flow.WithContext(true))
		require.NoError(t, err)
		bot := newFakeBot()
		ctx := context.Background()

		require.NoError(t, f.ProcessUpdate(ctx, bot, text(2, "/start")))
		require.NoError(t, f.ProcessUpdate(ctx, bot, text(2, "Ada")))

		state, err := store.LoadChatState(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, state.CurrentNodeID)
		assert.Equal(t, "Done", bot.last(2).Text)
	})
}

func TestProcessUpdate_Hooks(t *testing.T) {
	var (
		mu       sync.Mutex
		entered  []int
		verdicts []domain.VerdictKind
	)
	hooks := domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			defer mu.Unlock()
			entered = append(entered, e.NodeID)
		},
		OnVerdict: func(_ context.Context, e *domain.VerdictEvent) {
			mu.Lock()
			defer mu.Unlock()
			verdicts = append(verdicts, e.Kind)
		},
	}
	f, _ := newFlow(t, onboardingFlow, flow.WithLifecycleHooks(hooks))
	bot := newFakeBot()
	ctx := context.Background()

	for _, in := range []string{"/start", "go", "short"} {
		require.NoError(t, f.ProcessUpdate(ctx, bot, text(4, in)))
	}
	assert.Equal(t, []int{0, 1}, entered)
	assert.Equal(t, []domain.VerdictKind{domain.VerdictAdvance, domain.VerdictRetry}, verdicts)
}

func TestProcessUpdate_ManyChatsConcurrently(t *testing.T) {
	var current, maxSeen atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`)
	}))
	defer srv.Close()
	client := telegram.New("TOKEN", telegram.WithBaseURL(srv.URL), telegram.WithConcurrency(25))

	f, store := newFlow(t, onboardingFlow)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(chat int64) {
			defer wg.Done()
			for _, in := range []string{"/start", "go", "this has five words ok"} {
				assert.NoError(t, f.ProcessUpdate(ctx, client, text(chat, in)))
			}
		}(int64(i))
	}
	wg.Wait()

	for i := 1; i <= 100; i++ {
		state, err := store.LoadChatState(ctx, int64(i))
		require.NoError(t, err, fmt.Sprintf("chat %d", i))
		assert.Equal(t, 2, state.CurrentNodeID, fmt.Sprintf("chat %d", i))
	}

	stats := client.Stats()
	assert.LessOrEqual(t, stats.Peak, int64(25))
	assert.LessOrEqual(t, maxSeen.Load(), int64(25), "server saw more requests in flight than the ceiling")
	assert.Greater(t, stats.Peak, int64(1), "chats were processed in parallel")
	assert.Zero(t, stats.InFlight)
}

// flakyLocker fails the first Lock call, as a lock backend timing out would.
type flakyLocker struct{ calls atomic.Int32 }

func (l *flakyLocker) Lock(context.Context, string, time.Duration) (ports.UnlockFunc, error) {
	if l.calls.Add(1) == 1 {
		return nil, errors.New("lock backend unavailable")
	}
	return func(context.Context) error { return nil }, nil
}

func TestProcessUpdate_FailedUpdateCanBeRedelivered(t *testing.T) {
	store := memory.New()
	f, err := flow.New(graphFromJSON(t, onboardingFlow), builtinRegistry(t), store, nil,
		flow.WithLocker(&flakyLocker{}))
	require.NoError(t, err)
	bot := newFakeBot()
	ctx := context.Background()

	upd := domain.Update{UpdateID: 90, ChatID: 4, Text: "/start"}
	require.Error(t, f.ProcessUpdate(ctx, bot, upd))
	_, err = store.LoadChatState(ctx, 4)
	require.ErrorIs(t, err, domain.ErrChatNotFound)

	require.NoError(t, f.ProcessUpdate(ctx, bot, upd))
	assert.Equal(t, []string{"Welcome"}, bot.texts(4))

	require.NoError(t, f.ProcessUpdate(ctx, bot, upd))
	assert.Equal(t, []string{"Welcome"}, bot.texts(4), "a handled update is still deduplicated")
}

func TestProcessUpdate_SameChatIsSerialised(t *testing.T) {
	f, store := newFlow(t, onboardingFlow)
	bot := newFakeBot()
	ctx := context.Background()

	require.NoError(t, f.ProcessUpdate(ctx, bot, text(11, "/start")))
	require.NoError(t, f.ProcessUpdate(ctx, bot, text(11, "go")))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.ProcessUpdate(ctx, bot, text(11, "short")))
		}()
	}
	wg.Wait()

	state, err := store.LoadChatState(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 10, state.Iteration, "no retry was lost")
}
