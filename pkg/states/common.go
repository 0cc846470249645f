package states

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
)

const (
	msgNeedText      = "Please answer with a text message."
	msgNotAllowed    = "Sorry, that answer can't be accepted. Please rephrase it."
	msgUploadFailed  = "Sorry, the upload failed. Please send it again."
	keyRetryText     = "retry_text"
	platformMaxBytes = 20 << 20
)

// Render returns the node text, interpolated with context values when a
// context is attached. Template errors fall back to the raw text.
func Render(env *ports.Env) string {
	text := env.Node.Text
	if env.Context == nil || !strings.Contains(text, "{{") {
		return text
	}
	tmpl, err := template.New("node").Parse(text)
	if err != nil {
		env.Logger.Debug("node_text is not a valid template", "node_id", env.Node.ID, "err", err)
		return text
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env.Context.Value); err != nil {
		env.Logger.Debug("node_text interpolation failed", "node_id", env.Node.ID, "err", err)
		return text
	}
	return buf.String()
}

// sendPrompt sends the rendered node text, with buttons when choices are given.
func sendPrompt(ctx context.Context, env *ports.Env, choices []string) error {
	text := Render(env)
	if text == "" && len(choices) == 0 {
		return nil
	}
	_, err := env.Bot.SendText(ctx, domain.OutboundMessage{
		ChatID:  env.ChatID,
		Text:    text,
		Choices: choices,
	})
	return err
}

// retry builds a Retry verdict, honouring the node's retry_text override.
func retry(node domain.Node, reason string) domain.Verdict {
	if custom := node.String(keyRetryText); custom != "" {
		reason = custom
	}
	return domain.Retry(reason)
}

// advanceOrFinish advances to the node's successor, or ends the flow on a
// terminal node while keeping the answer.
func advanceOrFinish(node domain.Node, saved *domain.SavedValue) domain.Verdict {
	if node.Next != nil {
		return domain.Advance(*node.Next, saved)
	}
	return domain.Terminal(saved)
}

// moderate reports whether text passes the optional moderation hook.
// A failing hook counts as a rejection.
func moderate(ctx context.Context, env *ports.Env, text string) bool {
	if env.Moderator == nil {
		return true
	}
	allowed, err := env.Moderator.Check(ctx, text)
	if err != nil {
		env.Logger.Warn("moderation check failed", "chat_id", env.ChatID, "node_id", env.Node.ID, "err", err)
		return false
	}
	return allowed
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
