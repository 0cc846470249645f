package states

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/schema"
)

var textSchema = schema.Schema{
	"key_to_save": schema.Required(schema.NonEmptyString()),
	"min_words":   schema.Optional(schema.NonNegativeInt()),
}

type textConfig struct {
	KeyToSave string `mapstructure:"key_to_save"`
	MinWords  int    `mapstructure:"min_words"`
}

// Text accepts a free-text answer and saves it under key_to_save.
type Text struct{}

func (Text) ValidateNode(node domain.Node) error {
	return schema.Validate(textSchema, node.Raw)
}

func (Text) Enter(ctx context.Context, env *ports.Env) error {
	return sendPrompt(ctx, env, nil)
}

func (Text) Handle(ctx context.Context, env *ports.Env, upd domain.Update) (domain.Verdict, error) {
	cfg, err := decodeText(env.Node)
	if err != nil {
		return domain.Verdict{}, err
	}
	answer := strings.TrimSpace(upd.Text)
	if v, ok := checkText(ctx, env, cfg, answer, answer); !ok {
		return v, nil
	}
	return advanceOrFinish(env.Node, domain.Save(cfg.KeyToSave, answer)), nil
}

// checkText applies the rules shared by text and rich_text. plain is the
// answer with any markup removed.
func checkText(ctx context.Context, env *ports.Env, cfg textConfig, answer, plain string) (domain.Verdict, bool) {
	if answer == "" {
		return retry(env.Node, msgNeedText), false
	}
	if !moderate(ctx, env, plain) {
		return retry(env.Node, msgNotAllowed), false
	}
	if n := wordCount(plain); n < cfg.MinWords {
		return retry(env.Node, fmt.Sprintf("Please write at least %d words (you wrote %d).", cfg.MinWords, n)), false
	}
	return domain.Verdict{}, true
}

func decodeText(node domain.Node) (textConfig, error) {
	var cfg textConfig
	if err := schema.Decode(node.Raw, &cfg); err != nil {
		return cfg, fmt.Errorf("node %d: decode text config: %w", node.ID, err)
	}
	return cfg, nil
}
