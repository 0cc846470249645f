package states

import (
	"fmt"
	"sort"

	"github.com/aretw0/blueflow/pkg/ports"
)

// Built-in type names.
const (
	TypeChoice      = "choice"
	TypeText        = "text"
	TypeRichText    = "rich_text"
	TypeUsername    = "username"
	TypeTgUsername  = "tg_username"
	TypeVoiceUpload = "voice_upload"
	TypeFileUpload  = "file_upload"
	TypeCutscene    = "cutscene"
)

// SetBuiltin names the seven built-in behaviors.
const SetBuiltin = "builtin"

// Registrar is the part of a registry that Register needs.
type Registrar interface {
	Register(typeName string, behavior ports.Behavior) error
}

var catalog = map[string]func(Registrar) error{
	SetBuiltin: registerBuiltins,
}

// Register binds every behavior of the named sets onto reg.
func Register(reg Registrar, sets ...string) error {
	for _, set := range sets {
		fn, ok := catalog[set]
		if !ok {
			return fmt.Errorf("unknown behavior set %q (available: %v)", set, Sets())
		}
		if err := fn(reg); err != nil {
			return fmt.Errorf("register behavior set %q: %w", set, err)
		}
	}
	return nil
}

// Sets returns the names of the known behavior sets.
func Sets() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func registerBuiltins(reg Registrar) error {
	builtins := []struct {
		name     string
		behavior ports.Behavior
	}{
		{TypeChoice, Choice{}},
		{TypeText, Text{}},
		{TypeRichText, RichText{}},
		{TypeUsername, Username{}},
		{TypeTgUsername, Username{}},
		{TypeVoiceUpload, VoiceUpload{}},
		{TypeFileUpload, FileUpload{}},
		{TypeCutscene, Cutscene{}},
	}
	for _, b := range builtins {
		if err := reg.Register(b.name, b.behavior); err != nil {
			return err
		}
	}
	return nil
}
