package telegram_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/telegram"
)

const okMessage = `{"ok":true,"result":{"message_id":7,"chat":{"id":42}}}`

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...telegram.Option) *telegram.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]telegram.Option{
		telegram.WithBaseURL(srv.URL),
		telegram.WithBackoff(time.Millisecond, 2, 3),
	}, opts...)
	return telegram.New("TOKEN", opts...)
}

func TestBackOffPolicy(t *testing.T) {
	b := telegram.NewBackOff(time.Second, 3, 3)
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	assert.Equal(t, 9*time.Second, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestClient_ConcurrencyCeiling(t *testing.T) {
	var current, maxSeen atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, okMessage)
	}, telegram.WithConcurrency(25))

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.SendText(context.Background(), domain.OutboundMessage{ChatID: int64(i), Text: "hi"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats := client.Stats()
	assert.LessOrEqual(t, maxSeen.Load(), int64(25))
	assert.LessOrEqual(t, stats.Peak, int64(25))
	assert.Greater(t, stats.Peak, int64(1))
	assert.Equal(t, int64(0), stats.InFlight)
	assert.Equal(t, int64(25), stats.Limit)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	var retries atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, okMessage)
	}, telegram.WithHooks(telegram.Hooks{
		OnRetry: func(string, error, time.Duration) { retries.Add(1) },
	}))

	sent, err := client.SendText(context.Background(), domain.OutboundMessage{ChatID: 42, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), sent.MessageID)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, int32(2), retries.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
	})

	_, err := client.SendText(context.Background(), domain.OutboundMessage{ChatID: 1, Text: "x"})
	var apiErr *telegram.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, int32(4), hits.Load(), "one attempt plus three retries")
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter time.Duration
	}{
		{name: "bad request", status: 400, body: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`},
		{name: "forbidden", status: 403, body: `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`},
		{name: "too many requests", status: 429, body: `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":5}}`, retryAfter: 5 * time.Second},
		{name: "ok false with 200", status: 200, body: `{"ok":false,"error_code":400,"description":"Bad Request"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := client.SendText(context.Background(), domain.OutboundMessage{ChatID: 1, Text: "x"})
			var apiErr *telegram.APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.retryAfter, apiErr.RetryAfter)
			assert.False(t, telegram.IsRetryable(err))
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"ok":tru`)
	})
	_, err := client.GetFile(context.Background(), "abc")
	var malformed *telegram.MalformedResponseError
	assert.True(t, errors.As(err, &malformed), "got %v", err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := telegram.New("TOKEN", telegram.WithBaseURL(url), telegram.WithBackoff(time.Millisecond, 2, 1))
	err := client.AnswerCallback(context.Background(), "cb", "")
	var netErr *telegram.NetworkError
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.True(t, telegram.IsRetryable(err))
}

func TestClient_SendIsNotRetriedOnNetworkError(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// Drop the connection after the request was read, as if the response got lost.
		conn, _, err := w.(http.Hijacker).Hijack()
		if assert.NoError(t, err) {
			_ = conn.Close()
		}
	})

	_, err := client.SendText(context.Background(), domain.OutboundMessage{ChatID: 1, Text: "hi"})
	var netErr *telegram.NetworkError
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.Equal(t, int32(1), hits.Load(), "a lost send must not be repeated")

	hits.Store(0)
	err = client.AnswerCallback(context.Background(), "cb", "")
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.Equal(t, int32(4), hits.Load(), "idempotent calls keep the retry policy")
}

func TestClient_SendTextWithChoices(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, okMessage)
	})

	_, err := client.SendText(context.Background(), domain.OutboundMessage{
		ChatID: 42, Text: "Pick", ParseMode: domain.ParseModeHTML, Choices: []string{"yes", "no"},
	})
	require.NoError(t, err)
	assert.Equal(t, "HTML", got["parse_mode"])
	markup := got["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "yes", first["text"])
	assert.Equal(t, "yes", first["callback_data"])
}

func TestClient_GetUpdates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"chat":{"id":5},"from":{"id":5,"username":"ada"},"text":"/start"}},
			{"update_id":11,"edited_message":{"message_id":1,"chat":{"id":5}}},
			{"update_id":12,"callback_query":{"id":"q","from":{"id":5},"message":{"message_id":2,"chat":{"id":5}},"data":"yes"}}
		]}`)
	})

	updates, err := client.GetUpdates(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, "/start", updates[0].Text)
	assert.Equal(t, "ada", updates[0].Username)
	assert.Equal(t, domain.Update{UpdateID: 11}, updates[1])
	require.NotNil(t, updates[2].Callback)
	assert.Equal(t, "yes", updates[2].Input())
	assert.Equal(t, int64(5), updates[2].ChatID)
}

func TestClient_DownloadFile(t *testing.T) {
	const limit = 10

	t.Run("within limit", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/file/botTOKEN/voice/file_1.oga", r.URL.Path)
			_, _ = io.WriteString(w, "0123456789")
		}, telegram.WithMaxDownloadSize(limit))

		var sink bytes.Buffer
		n, err := client.DownloadFile(context.Background(), "voice/file_1.oga", &sink)
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)
		assert.Equal(t, "0123456789", sink.String())
	})

	t.Run("declared length over limit", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "100")
			_, _ = w.Write(bytes.Repeat([]byte("x"), 100))
		}, telegram.WithMaxDownloadSize(limit))

		var sink bytes.Buffer
		_, err := client.DownloadFile(context.Background(), "big", &sink)
		var tooLarge *telegram.PayloadTooLargeError
		require.True(t, errors.As(err, &tooLarge), "got %v", err)
		assert.Equal(t, int64(100), tooLarge.Size)
		assert.Zero(t, sink.Len())
	})

	t.Run("streamed body over limit", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			for i := 0; i < 5; i++ {
				_, _ = io.WriteString(w, "abcd")
				flusher.Flush()
			}
		}, telegram.WithMaxDownloadSize(limit))

		var sink bytes.Buffer
		_, err := client.DownloadFile(context.Background(), "big", &sink)
		var tooLarge *telegram.PayloadTooLargeError
		require.True(t, errors.As(err, &tooLarge), "got %v", err)
		assert.LessOrEqual(t, sink.Len(), limit+1)
	})

	t.Run("sink error is returned without retry", func(t *testing.T) {
		var hits atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			_, _ = io.WriteString(w, "0123456789")
		}, telegram.WithMaxDownloadSize(limit))

		sinkErr := errors.New("disk full")
		_, err := client.DownloadFile(context.Background(), "f", failingWriter{err: sinkErr})
		assert.ErrorIs(t, err, sinkErr)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("not found is not retried", func(t *testing.T) {
		var hits atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.NotFound(w, r)
		})
		_, err := client.DownloadFile(context.Background(), "gone", io.Discard)
		var apiErr *telegram.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestClient_UploadRetriesOnlySeekable(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	handler := func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("voice")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		mu.Lock()
		received = append(received, string(data))
		first := len(received) == 1
		mu.Unlock()
		assert.Equal(t, "42", r.FormValue("chat_id"))
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, okMessage)
	}

	t.Run("seekable source is rewound and retried", func(t *testing.T) {
		received = nil
		client := newTestClient(t, handler)
		_, err := client.SendVoice(context.Background(), 42, "v.ogg", strings.NewReader("OggS-voice"))
		require.NoError(t, err)
		assert.Equal(t, []string{"OggS-voice", "OggS-voice"}, received)
	})

	t.Run("plain reader is sent once", func(t *testing.T) {
		received = nil
		client := newTestClient(t, handler)
		_, err := client.SendVoice(context.Background(), 42, "v.ogg", io.MultiReader(strings.NewReader("OggS-voice")))
		var apiErr *telegram.APIError
		require.True(t, errors.As(err, &apiErr), "got %v", err)
		assert.Equal(t, []string{"OggS-voice"}, received)
	})
}

func TestClient_ContextCancel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, telegram.WithBackoff(time.Hour, 2, 3))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := client.SendText(ctx, domain.OutboundMessage{ChatID: 1, Text: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestParseUpdate(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, upd domain.Update)
		wantErr error
	}{
		{
			name:    "voice",
			payload: `{"update_id":1,"message":{"message_id":3,"chat":{"id":9},"voice":{"file_id":"v1","file_unique_id":"u1","duration":12,"mime_type":"audio/ogg","file_size":2048}}}`,
			check: func(t *testing.T, upd domain.Update) {
				require.NotNil(t, upd.Voice)
				assert.Equal(t, 12, upd.Voice.Duration)
				assert.Equal(t, int64(9), upd.ChatID)
			},
		},
		{
			name:    "document with caption",
			payload: `{"update_id":2,"message":{"message_id":4,"chat":{"id":9},"caption":"my cv","document":{"file_id":"d1","file_name":"cv.pdf","mime_type":"application/pdf","file_size":10}}}`,
			check: func(t *testing.T, upd domain.Update) {
				require.NotNil(t, upd.Document)
				assert.Equal(t, "cv.pdf", upd.Document.FileName)
				assert.Equal(t, "my cv", upd.Text)
			},
		},
		{name: "unsupported", payload: `{"update_id":3,"channel_post":{}}`, wantErr: telegram.ErrUnsupportedUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upd, err := telegram.ParseUpdate([]byte(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, upd)
		})
	}

	_, err := telegram.ParseUpdate([]byte(`not json`))
	var malformed *telegram.MalformedResponseError
	assert.True(t, errors.As(err, &malformed))
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }
