// Package state holds the durable records of the copilot service and the
// store contracts over them. Implementations live here (in memory) and in
// the store subpackage (SQL).
package state

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBotNotFound = errors.New("chatbot not found")
	ErrBotExists   = errors.New("chatbot already exists")
)

// Bot is one configured copilot. Token is the opaque bearer credential
// chat clients present in X-Bot-Token.
type Bot struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Token           string     `json:"token"`
	Website         string     `json:"website"`
	Status          string     `json:"status"`
	PromptMessage   string     `json:"prompt_message"`
	EnhancedPrivacy bool       `json:"enhanced_privacy"`
	SmartSync       bool       `json:"smart_sync"`
	SwaggerURL      string     `json:"swagger_url"`
	Email           string     `json:"email,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at"`
}

// BotPatch carries the fields an update may change; nil leaves a field as is.
type BotPatch struct {
	Name            *string `json:"name,omitempty"`
	PromptMessage   *string `json:"prompt_message,omitempty"`
	SwaggerURL      *string `json:"swagger_url,omitempty"`
	EnhancedPrivacy *bool   `json:"enhanced_privacy,omitempty"`
	SmartSync       *bool   `json:"smart_sync,omitempty"`
	Website         *string `json:"website,omitempty"`
}

// Apply copies the set fields of p onto b.
func (p BotPatch) Apply(b *Bot) {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.PromptMessage != nil {
		b.PromptMessage = *p.PromptMessage
	}
	if p.SwaggerURL != nil {
		b.SwaggerURL = *p.SwaggerURL
	}
	if p.EnhancedPrivacy != nil {
		b.EnhancedPrivacy = *p.EnhancedPrivacy
	}
	if p.SmartSync != nil {
		b.SmartSync = *p.SmartSync
	}
	if p.Website != nil {
		b.Website = *p.Website
	}
}

// BotStore persists bots. Get, GetByToken, Update and Delete return
// ErrBotNotFound for unknown bots.
type BotStore interface {
	List(ctx context.Context) ([]*Bot, error)
	Batch(ctx context.Context, offset, limit int) ([]*Bot, error)
	Count(ctx context.Context) (int, error)
	Get(ctx context.Context, id string) (*Bot, error)
	GetByToken(ctx context.Context, token string) (*Bot, error)
	Create(ctx context.Context, b *Bot) error
	Update(ctx context.Context, id string, p BotPatch) (*Bot, error)
	Delete(ctx context.Context, id string) error
}
