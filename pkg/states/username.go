package states

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/aretw0/blueflow/pkg/schema"
)

var usernamePattern = regexp.MustCompile(`^@?([A-Za-z][A-Za-z0-9_]{3,30}[A-Za-z0-9])$`)

var usernameSchema = schema.Schema{
	"key_to_save": schema.Required(schema.NonEmptyString()),
}

// Username accepts a platform username and saves it as "@name".
type Username struct{}

func (Username) ValidateNode(node domain.Node) error {
	return schema.Validate(usernameSchema, node.Raw)
}

func (Username) Enter(ctx context.Context, env *ports.Env) error {
	return sendPrompt(ctx, env, nil)
}

func (Username) Handle(_ context.Context, env *ports.Env, upd domain.Update) (domain.Verdict, error) {
	key := env.Node.String("key_to_save")
	if key == "" {
		return domain.Verdict{}, fmt.Errorf("node %d: missing key_to_save", env.Node.ID)
	}
	name, ok := NormalizeUsername(upd.Text)
	if !ok {
		return retry(env.Node, "That doesn't look like a username. Send it like @example (5-32 letters, digits or _)."), nil
	}
	return advanceOrFinish(env.Node, domain.Save(key, name)), nil
}

// NormalizeUsername validates s and returns it with a single leading '@'.
func NormalizeUsername(s string) (string, bool) {
	m := usernamePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return "@" + m[1], true
}
