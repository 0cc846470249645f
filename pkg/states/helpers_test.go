package states_test

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aretw0/blueflow/pkg/domain"
)

// fakeBot is an in-memory ports.Messenger.
type fakeBot struct {
	mu        sync.Mutex
	texts     []domain.OutboundMessage
	voices    []string
	documents []string

	payload     []byte
	hideSize    bool
	downloadErr error
	nextID      int64
}

func (b *fakeBot) SendText(_ context.Context, msg domain.OutboundMessage) (domain.SentMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, msg)
	b.nextID++
	return domain.SentMessage{MessageID: b.nextID, ChatID: msg.ChatID}, nil
}

func (b *fakeBot) SendVoice(_ context.Context, chatID int64, fileName string, r io.Reader) (domain.SentMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.SentMessage{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voices = append(b.voices, fileName+":"+string(data))
	return domain.SentMessage{ChatID: chatID}, nil
}

func (b *fakeBot) SendDocument(_ context.Context, chatID int64, fileName string, r io.Reader) (domain.SentMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.documents = append(b.documents, fileName)
	return domain.SentMessage{ChatID: chatID}, nil
}

func (b *fakeBot) AnswerCallback(context.Context, string, string) error { return nil }

func (b *fakeBot) GetFile(_ context.Context, fileID string) (domain.File, error) {
	f := domain.File{FileID: fileID, FilePath: "files/" + fileID}
	if !b.hideSize {
		f.FileSize = int64(len(b.payload))
	}
	return f, nil
}

func (b *fakeBot) DownloadFile(_ context.Context, _ string, sink io.Writer) (int64, error) {
	if b.downloadErr != nil {
		return 0, b.downloadErr
	}
	n, err := sink.Write(b.payload)
	return int64(n), err
}

func (b *fakeBot) lastText() domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.texts) == 0 {
		return domain.OutboundMessage{}
	}
	return b.texts[len(b.texts)-1]
}

// memStorage is an in-memory ports.StorageBackend.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
	deleted []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Save(_ context.Context, _ int64, _ int, fileName, _ string, r io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	url := "mem://" + fileName
	s.objects[url] = data
	return url, nil
}

func (s *memStorage) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, url)
	s.deleted = append(s.deleted, url)
	return nil
}

type blockAll struct{}

func (blockAll) Check(context.Context, string) (bool, error) { return false, nil }

type brokenModerator struct{}

func (brokenModerator) Check(context.Context, string) (bool, error) {
	return false, errors.New("moderation service down")
}
