package flow

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/telegram"
)

// SecretHeader carries the webhook secret set with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxWebhookBody = 1 << 20

// WebhookHandler serves POST /webhook and GET /healthz. Updates are processed
// before the response is written. An empty secret disables the check.
func (f *Flow) WebhookHandler(bot ports.Messenger, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/webhook", func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(secret)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		upd, err := telegram.ParseUpdate(body)
		if errors.Is(err, telegram.ErrUnsupportedUpdate) {
			w.WriteHeader(http.StatusOK)
			return
		}
		if err != nil {
			http.Error(w, "malformed update", http.StatusBadRequest)
			return
		}
		if err := f.ProcessUpdate(r.Context(), bot, upd); err != nil {
			f.logger.Error("failed to process webhook update", "chat_id", upd.ChatID, "update_id", upd.UpdateID, "err", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	return r
}
