// Package models downloads and locates on-device Vosk models.
package models

import "strings"

// DefaultBaseURL hosts the official Vosk model archives.
const DefaultBaseURL = "https://alphacephei.com/vosk/models"

// ModelInfo describes one downloadable model.
type ModelInfo struct {
	Locale string // BCP-47 tag the model serves: "en-US"
	Name   string // archive and directory name: "vosk-model-small-en-us-0.15"
	Size   int64  // approximate archive size, used when the server omits Content-Length
}

// Registry lists the models that can be installed, one per locale.
var Registry = []ModelInfo{
	{Locale: "en-US", Name: "vosk-model-small-en-us-0.15", Size: 40 << 20},
	{Locale: "de-DE", Name: "vosk-model-small-de-0.15", Size: 45 << 20},
	{Locale: "fr-FR", Name: "vosk-model-small-fr-0.22", Size: 41 << 20},
	{Locale: "es-ES", Name: "vosk-model-small-es-0.42", Size: 39 << 20},
	{Locale: "it-IT", Name: "vosk-model-small-it-0.22", Size: 48 << 20},
	{Locale: "pt-BR", Name: "vosk-model-small-pt-0.3", Size: 31 << 20},
	{Locale: "ru-RU", Name: "vosk-model-small-ru-0.22", Size: 45 << 20},
	{Locale: "ja-JP", Name: "vosk-model-small-ja-0.22", Size: 48 << 20},
	{Locale: "zh-CN", Name: "vosk-model-small-cn-0.22", Size: 42 << 20},
	{Locale: "hi-IN", Name: "vosk-model-small-hi-0.22", Size: 42 << 20},
}

// normalizeLocale turns "en_us" and " EN-us " into "en-US".
func normalizeLocale(locale string) string {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	lang, region, found := strings.Cut(locale, "-")
	if !found {
		return strings.ToLower(lang)
	}
	return strings.ToLower(lang) + "-" + strings.ToUpper(region)
}

// lookup finds the model for a locale, falling back to the first model of
// the same language ("en-GB" uses the en-US model).
func lookup(registry []ModelInfo, locale string) (ModelInfo, bool) {
	locale = normalizeLocale(locale)
	if locale == "" {
		return ModelInfo{}, false
	}
	for _, info := range registry {
		if info.Locale == locale {
			return info, true
		}
	}
	lang, _, _ := strings.Cut(locale, "-")
	for _, info := range registry {
		if strings.HasPrefix(info.Locale, lang+"-") {
			return info, true
		}
	}
	return ModelInfo{}, false
}
