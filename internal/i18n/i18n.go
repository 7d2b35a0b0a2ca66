// Package i18n renders API messages in the caller's language. Message
// catalogs are JSON files embedded from locales/, one per language tag.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var catalogs embed.FS

type localizerKey struct{}

// messages is replaced wholesale by Init.
var messages struct {
	bundle   *i18n.Bundle
	fallback string
}

// Init builds the message bundle from the embedded catalogs. lang is the
// language used when a request names none that is supported.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("i18n: default language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	paths, err := fs.Glob(catalogs, "locales/*.json")
	if err != nil {
		return fmt.Errorf("i18n: list catalogs: %w", err)
	}
	for _, p := range paths {
		mf, err := b.LoadMessageFileFS(catalogs, p)
		if err != nil {
			return fmt.Errorf("i18n: load %s: %w", p, err)
		}
		slog.Debug("message catalog loaded", "catalog", p, "language", mf.Tag, "messages", len(mf.Messages))
	}

	messages.bundle = b
	messages.fallback = tag.String()
	return nil
}

// NewLocalizer picks the first supported language among prefs. Each entry
// may be a bare tag or a full Accept-Language value.
func NewLocalizer(prefs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(messages.bundle, prefs...)
}

// Languages lists the languages that have a catalog.
func Languages() []language.Tag {
	return messages.bundle.LanguageTags()
}

// WithLocalizer attaches loc to ctx for T, Td and Tp.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, localizerKey{}, loc)
}

// T renders the message id.
func T(ctx context.Context, id string) string {
	return render(ctx, &i18n.LocalizeConfig{MessageID: id})
}

// Td renders the message id with template data.
func Td(ctx context.Context, id string, data map[string]any) string {
	return render(ctx, &i18n.LocalizeConfig{MessageID: id, TemplateData: data})
}

// Tp renders the plural form of id for count, which is also exposed to the
// template as .Count.
func Tp(ctx context.Context, id string, count int) string {
	return render(ctx, &i18n.LocalizeConfig{
		MessageID:    id,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

// render uses the default language when ctx has no localizer and returns
// the bare id for a message missing from the catalogs.
func render(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	loc, ok := ctx.Value(localizerKey{}).(*i18n.Localizer)
	if !ok {
		loc = i18n.NewLocalizer(messages.bundle, messages.fallback)
	}
	out, err := loc.Localize(cfg)
	if err != nil {
		slog.Warn("message not in catalog", "message_id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return out
}
