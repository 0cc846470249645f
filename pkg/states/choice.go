package states

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/schema"
)

// maxCallbackData is the platform limit on button payloads, in bytes.
const maxCallbackData = 64

var choiceSchema = schema.Schema{
	"choices":         schema.Required(schema.NonEmptySlice(schema.NonEmptyString())),
	"next_for_choice": schema.Required(schema.Map(schema.NonNegativeInt())),
}

type choiceConfig struct {
	Choices []string `mapstructure:"choices"`
}

// Choice lets the user pick one of a fixed set of answers.
type Choice struct{}

func (Choice) ValidateNode(node domain.Node) error {
	if err := schema.Validate(choiceSchema, node.Raw); err != nil {
		return err
	}
	cfg, err := decodeChoice(node)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range cfg.Choices {
		if _, ok := node.NextForChoice[c]; !ok {
			errs = append(errs, &schema.ValidationError{Key: "next_for_choice", Reason: "no transition for choice", Value: c})
		}
		if len(c) > maxCallbackData {
			errs = append(errs, &schema.ValidationError{Key: "choices", Reason: fmt.Sprintf("longer than %d bytes", maxCallbackData), Value: c})
		}
	}
	if len(errs) > 0 {
		return &schema.AggregateError{Errors: errs}
	}
	return nil
}

func (Choice) Enter(ctx context.Context, env *ports.Env) error {
	cfg, err := decodeChoice(env.Node)
	if err != nil {
		return err
	}
	return sendPrompt(ctx, env, cfg.Choices)
}

func (Choice) Handle(ctx context.Context, env *ports.Env, upd domain.Update) (domain.Verdict, error) {
	cfg, err := decodeChoice(env.Node)
	if err != nil {
		return domain.Verdict{}, err
	}
	if key, ok := matchChoice(cfg.Choices, upd.Input()); ok {
		if next, ok := env.Node.NextForChoice[key]; ok {
			return domain.Advance(next, nil), nil
		}
	}
	reason := "Please pick one of: " + strings.Join(cfg.Choices, ", ")
	if custom := env.Node.String(keyRetryText); custom != "" {
		reason = custom
	}
	return domain.RetryAndReprompt(reason), nil
}

// matchChoice prefers an exact match, then a case-insensitive one.
func matchChoice(choices []string, input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	for _, c := range choices {
		if c == input {
			return c, true
		}
	}
	for _, c := range choices {
		if strings.EqualFold(c, input) {
			return c, true
		}
	}
	return "", false
}

func decodeChoice(node domain.Node) (choiceConfig, error) {
	var cfg choiceConfig
	if err := schema.Decode(node.Raw, &cfg); err != nil {
		return cfg, fmt.Errorf("node %d: decode choice config: %w", node.ID, err)
	}
	return cfg, nil
}
