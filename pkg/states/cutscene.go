package states

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/schema"
)

var cutsceneSchema = schema.Schema{
	"attachment_path": schema.Optional(schema.NonEmptyString()),
	"attachment_kind": schema.Optional(schema.Custom("voice|document", func(v any) error {
		switch v {
		case "voice", "document":
			return nil
		}
		return fmt.Errorf("must be voice or document, got %v", v)
	})),
}

// Cutscene shows its text, and an optional file, then moves on whatever the
// user sends. Without next it ends the flow.
type Cutscene struct{}

func (Cutscene) ValidateNode(node domain.Node) error {
	return schema.Validate(cutsceneSchema, node.Raw)
}

func (Cutscene) Enter(ctx context.Context, env *ports.Env) error {
	if err := sendPrompt(ctx, env, nil); err != nil {
		return err
	}
	path := env.Node.String("attachment_path")
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	if env.Node.String("attachment_kind") == "voice" {
		_, err = env.Bot.SendVoice(ctx, env.ChatID, name, f)
	} else {
		_, err = env.Bot.SendDocument(ctx, env.ChatID, name, f)
	}
	return err
}

func (Cutscene) Handle(_ context.Context, env *ports.Env, _ domain.Update) (domain.Verdict, error) {
	return advanceOrFinish(env.Node, nil), nil
}
