// Package prompts holds per-bot and per-app prompt overrides.
//
// Entries are registered at startup from configuration. A missing entry
// means the built-in prompt is used; it is never an error.
package prompts

import "sync"

// BotOverrides replaces prompts for one bot.
type BotOverrides struct {
	SystemMessage string `yaml:"system_message" json:"system_message,omitempty"`
	APISummarizer string `yaml:"api_summarizer" json:"api_summarizer,omitempty"`
}

// AppOverrides adds instructions for requests tagged with an app name.
type AppOverrides struct {
	APIGeneration string `yaml:"api_generation" json:"api_generation,omitempty"`
}

type Registry struct {
	mu   sync.RWMutex
	bots map[string]BotOverrides
	apps map[string]AppOverrides
}

func NewRegistry() *Registry {
	return &Registry{
		bots: make(map[string]BotOverrides),
		apps: make(map[string]AppOverrides),
	}
}

// FromConfig builds a registry from config maps. Nil maps are allowed.
func FromConfig(bots map[string]BotOverrides, apps map[string]AppOverrides) *Registry {
	r := NewRegistry()
	for id, o := range bots {
		r.SetBot(id, o)
	}
	for name, o := range apps {
		r.SetApp(name, o)
	}
	return r
}

func (r *Registry) SetBot(botID string, o BotOverrides) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[botID] = o
}

func (r *Registry) SetApp(app string, o AppOverrides) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app] = o
}

// ForBot returns the overrides for botID. The zero value means none.
// A nil registry has no overrides.
func (r *Registry) ForBot(botID string) BotOverrides {
	if r == nil {
		return BotOverrides{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bots[botID]
}

// ForApp returns the overrides for app. An empty app name has none.
func (r *Registry) ForApp(app string) AppOverrides {
	if r == nil || app == "" {
		return AppOverrides{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apps[app]
}
