package states

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/schema"
)

// allowedTags is the markup the platform renders in HTML parse mode.
var allowedTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true, "ins": true,
	"s": true, "strike": true, "del": true,
	"span": true, "tg-spoiler": true, "tg-emoji": true,
	"a": true, "code": true, "pre": true,
	"blockquote": true,
}

// RichText accepts formatted text and saves the markup as sent.
type RichText struct{}

func (RichText) ValidateNode(node domain.Node) error {
	return schema.Validate(textSchema, node.Raw)
}

func (RichText) Enter(ctx context.Context, env *ports.Env) error {
	return sendPrompt(ctx, env, nil)
}

func (RichText) Handle(ctx context.Context, env *ports.Env, upd domain.Update) (domain.Verdict, error) {
	cfg, err := decodeText(env.Node)
	if err != nil {
		return domain.Verdict{}, err
	}
	answer := strings.TrimSpace(upd.Text)
	plain, err := CheckMarkup(answer)
	if err != nil {
		return retry(env.Node, "The formatting is invalid: "+err.Error()+". Please fix it and send again."), nil
	}
	if v, ok := checkText(ctx, env, cfg, answer, plain); !ok {
		return v, nil
	}
	return advanceOrFinish(env.Node, domain.Save(cfg.KeyToSave, answer)), nil
}

// CheckMarkup verifies that text only uses allowed tags, that every tag is
// closed in order and that no bare '<' appears. It returns the text content.
func CheckMarkup(text string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(text))
	var (
		open  []string
		plain strings.Builder
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return "", z.Err()
			}
			if len(open) > 0 {
				return "", fmt.Errorf("unclosed <%s>", open[len(open)-1])
			}
			return plain.String(), nil
		case html.TextToken:
			if strings.ContainsRune(string(z.Raw()), '<') {
				return "", errors.New("unescaped '<'")
			}
			plain.Write(z.Text())
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if !allowedTags[tag] {
				return "", fmt.Errorf("tag <%s> is not allowed", tag)
			}
			open = append(open, tag)
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if len(open) == 0 || open[len(open)-1] != tag {
				return "", fmt.Errorf("unexpected </%s>", tag)
			}
			open = open[:len(open)-1]
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			return "", fmt.Errorf("tag <%s/> is not allowed", name)
		case html.CommentToken, html.DoctypeToken:
			return "", errors.New("comments and doctypes are not allowed")
		}
	}
}
