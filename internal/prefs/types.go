package prefs

import (
	"fmt"
	"strings"
)

// Storage keys.
const (
	KeyTheme = "site-theme"
	KeyModel = "site-model"
)

// Theme is the display theme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// ParseTheme accepts light, dark or system, case-insensitively.
func ParseTheme(s string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(s))); t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return t, nil
	default:
		return "", fmt.Errorf("invalid theme %q (want light, dark or system)", s)
	}
}

// Resolve maps system to light or dark using the environment's preference.
func Resolve(t Theme, systemPrefersDark bool) Theme {
	switch t {
	case ThemeLight, ThemeDark:
		return t
	default:
		if systemPrefersDark {
			return ThemeDark
		}
		return ThemeLight
	}
}

// Preferences are the user's local settings.
type Preferences struct {
	Theme Theme  `json:"theme"`
	Model string `json:"model"`
}

// Model is a selectable model id.
type Model struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Catalog lists the models offered for selection. The first entry is the
// default when nothing is stored.
var Catalog = []Model{
	{ID: "deepseek/deepseek-chat-v3.1:free", Label: "DeepSeek Chat v3.1 (free)"},
	{ID: "openai/gpt-oss-120b:free", Label: "OpenAI GPT-OSS 120B (free)"},
	{ID: "openai/gpt-oss-20b:free", Label: "OpenAI GPT-OSS 20B (free)"},
	{ID: "deepseek/deepseek-r1-0528:free", Label: "DeepSeek R1 (free)"},
	{ID: "microsoft/mai-ds-r1:free", Label: "Microsoft MAI-DS R1 (free)"},
}

// Defaults returns the preferences used when nothing is stored.
func Defaults() Preferences {
	return Preferences{Theme: ThemeSystem, Model: Catalog[0].ID}
}
