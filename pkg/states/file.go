package states

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/schema"
)

const maxUploadMB = platformMaxBytes >> 20

var fileSchema = schema.Schema{
	"key_to_save":  schema.Required(schema.NonEmptyString()),
	"allowed_mime": schema.Required(schema.NonEmptySlice(schema.NonEmptyString())),
	"max_mb": schema.Required(schema.Custom("int in 1..20", func(v any) error {
		n, err := schema.AsInt(v)
		if err != nil {
			return err
		}
		if n < 1 || n > maxUploadMB {
			return fmt.Errorf("must be between 1 and %d, got %d", maxUploadMB, n)
		}
		return nil
	})),
}

type fileConfig struct {
	KeyToSave   string   `mapstructure:"key_to_save"`
	AllowedMime []string `mapstructure:"allowed_mime"`
	MaxMB       int      `mapstructure:"max_mb"`
}

// FileUpload accepts a document of an allowed mime type up to max_mb MiB.
type FileUpload struct{}

func (FileUpload) ValidateNode(node domain.Node) error {
	return schema.Validate(fileSchema, node.Raw)
}

func (FileUpload) Enter(ctx context.Context, env *ports.Env) error {
	return sendPrompt(ctx, env, nil)
}

func (FileUpload) Handle(ctx context.Context, env *ports.Env, upd domain.Update) (domain.Verdict, error) {
	var cfg fileConfig
	if err := schema.Decode(env.Node.Raw, &cfg); err != nil {
		return domain.Verdict{}, fmt.Errorf("node %d: %w", env.Node.ID, err)
	}

	doc := upd.Document
	if doc == nil {
		return retry(env.Node, "Please send a file."), nil
	}
	if !MimeAllowed(cfg.AllowedMime, doc.MimeType) {
		return retry(env.Node, "This file type is not accepted. Allowed: "+strings.Join(cfg.AllowedMime, ", ")), nil
	}
	limit := int64(cfg.MaxMB) << 20
	tooLarge := fmt.Sprintf("That file is too large. The limit is %d MB.", cfg.MaxMB)
	if doc.FileSize > limit {
		return retry(env.Node, tooLarge), nil
	}

	name := doc.FileName
	if name == "" {
		name = fileNameFor("document", doc.FileUniqueID, doc.MimeType)
	}
	att, err := storeUpload(ctx, env, doc.FileID, name, doc.MimeType, limit)
	if errors.Is(err, errUploadTooLarge) {
		return retry(env.Node, tooLarge), nil
	}
	if err != nil {
		return uploadFailed(env, "file_upload", err), nil
	}
	return advanceOrFinish(env.Node, domain.Save(cfg.KeyToSave, att.StorageURL)), nil
}

// MimeAllowed matches mimeType against exact entries and "type/*" wildcards.
func MimeAllowed(allowed []string, mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		return false
	}
	for _, a := range allowed {
		a = strings.ToLower(a)
		if a == mimeType || a == "*/*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mimeType, prefix+"/") {
			return true
		}
	}
	return false
}
