package flow_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/blueflow/internal/adapters/memory"
	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/flow"
	"github.com/aretw0/blueflow/pkg/flowdef"
	"github.com/aretw0/blueflow/pkg/registry"
	"github.com/aretw0/blueflow/pkg/states"
)

// fakeBot records outbound traffic and serves queued update batches.
type fakeBot struct {
	mu       sync.Mutex
	sent     []domain.OutboundMessage
	answered []string
	nextID   int64

	batches chan []domain.Update
	offsets []int64
}

func newFakeBot() *fakeBot {
	return &fakeBot{batches: make(chan []domain.Update, 8)}
}

func (b *fakeBot) SendText(_ context.Context, msg domain.OutboundMessage) (domain.SentMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	b.nextID++
	return domain.SentMessage{MessageID: b.nextID, ChatID: msg.ChatID}, nil
}

func (b *fakeBot) SendVoice(_ context.Context, chatID int64, _ string, r io.Reader) (domain.SentMessage, error) {
	_, _ = io.Copy(io.Discard, r)
	return domain.SentMessage{ChatID: chatID}, nil
}

func (b *fakeBot) SendDocument(_ context.Context, chatID int64, _ string, r io.Reader) (domain.SentMessage, error) {
	_, _ = io.Copy(io.Discard, r)
	return domain.SentMessage{ChatID: chatID}, nil
}

func (b *fakeBot) AnswerCallback(_ context.Context, id, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answered = append(b.answered, id)
	return nil
}

func (b *fakeBot) GetFile(_ context.Context, fileID string) (domain.File, error) {
	return domain.File{FileID: fileID, FilePath: "files/" + fileID}, nil
}

func (b *fakeBot) DownloadFile(_ context.Context, _ string, sink io.Writer) (int64, error) {
	n, err := sink.Write([]byte("payload"))
	return int64(n), err
}

func (b *fakeBot) GetUpdates(ctx context.Context, offset int64, _ int) ([]domain.Update, error) {
	b.mu.Lock()
	b.offsets = append(b.offsets, offset)
	b.mu.Unlock()
	select {
	case batch := <-b.batches:
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *fakeBot) texts(chatID int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) last(chatID int64) domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sent) - 1; i >= 0; i-- {
		if b.sent[i].ChatID == chatID {
			return b.sent[i]
		}
	}
	return domain.OutboundMessage{}
}

func builtinRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, states.Register(reg, states.SetBuiltin))
	return reg
}

func graphFromJSON(t *testing.T, doc string) domain.FlowGraph {
	t.Helper()
	graph, err := flowdef.ParseJSON([]byte(doc))
	require.NoError(t, err)
	return graph
}

func newFlow(t *testing.T, doc string, opts ...flow.Option) (*flow.Flow, *memory.Store) {
	t.Helper()
	store := memory.New()
	f, err := flow.New(graphFromJSON(t, doc), builtinRegistry(t), store, nil, append([]flow.Option{flow.WithDedupTTL(0)}, opts...)...)
	require.NoError(t, err)
	return f, store
}

func text(chatID int64, s string) domain.Update {
	return domain.Update{ChatID: chatID, Text: s}
}
