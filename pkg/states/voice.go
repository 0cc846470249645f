package states

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/schema"
)

var voiceSchema = schema.Schema{
	"key_to_save": schema.Required(schema.NonEmptyString()),
	"max_seconds": schema.Required(schema.PositiveInt()),
}

type voiceConfig struct {
	KeyToSave  string `mapstructure:"key_to_save"`
	MaxSeconds int    `mapstructure:"max_seconds"`
}

// VoiceUpload accepts a voice note no longer than max_seconds.
type VoiceUpload struct{}

func (VoiceUpload) ValidateNode(node domain.Node) error {
	return schema.Validate(voiceSchema, node.Raw)
}

func (VoiceUpload) Enter(ctx context.Context, env *ports.Env) error {
	return sendPrompt(ctx, env, nil)
}

func (VoiceUpload) Handle(ctx context.Context, env *ports.Env, upd domain.Update) (domain.Verdict, error) {
	var cfg voiceConfig
	if err := schema.Decode(env.Node.Raw, &cfg); err != nil {
		return domain.Verdict{}, fmt.Errorf("node %d: %w", env.Node.ID, err)
	}

	v := upd.Voice
	if v == nil {
		return retry(env.Node, "Please send a voice message."), nil
	}
	if v.Duration > cfg.MaxSeconds {
		return retry(env.Node, fmt.Sprintf("That voice message is too long. Please keep it under %d seconds.", cfg.MaxSeconds)), nil
	}
	const tooLarge = "That voice message is too large. Please record a shorter one."
	if v.FileSize > platformMaxBytes {
		return retry(env.Node, tooLarge), nil
	}

	mimeType := v.MimeType
	if mimeType == "" {
		mimeType = "audio/ogg"
	}
	att, err := storeUpload(ctx, env, v.FileID, fileNameFor("voice", v.FileUniqueID, mimeType), mimeType, platformMaxBytes)
	if errors.Is(err, errUploadTooLarge) {
		return retry(env.Node, tooLarge), nil
	}
	if err != nil {
		return uploadFailed(env, "voice_upload", err), nil
	}
	return advanceOrFinish(env.Node, domain.Save(cfg.KeyToSave, att.StorageURL)), nil
}
