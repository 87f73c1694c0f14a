// Package i18n resolves message keys to localized text.
//
// The language for a user is chosen by a fixed chain: the language stored in
// the user's session, then the language reported by the messaging platform,
// then the default language. Keys missing from a bundle fall back to the
// default bundle, then to the key itself.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ashureev/student-desk/internal/domain"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when neither the session nor the platform names a
// supported language.
const DefaultLanguage = "en"

//go:embed locales/*.yaml
var localeFS embed.FS

// Option is one entry of the language picker.
type Option struct {
	Code  string
	Label string
}

// Resolver holds the loaded message bundles.
type Resolver struct {
	bundles  map[string]map[string]string
	codes    []string
	matcher  language.Matcher
	fallback string
}

// New loads the embedded locale bundles.
func New() (*Resolver, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	bundles := make(map[string]map[string]string, len(entries))
	for _, e := range entries {
		data, err := localeFS.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", e.Name(), err)
		}
		var bundle map[string]string
		if err := yaml.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", e.Name(), err)
		}
		bundles[strings.TrimSuffix(e.Name(), ".yaml")] = bundle
	}
	return NewFromBundles(bundles, DefaultLanguage)
}

// NewFromBundles builds a resolver from in-memory bundles.
func NewFromBundles(bundles map[string]map[string]string, fallback string) (*Resolver, error) {
	if _, ok := bundles[fallback]; !ok {
		return nil, fmt.Errorf("default language %q has no bundle", fallback)
	}

	// Default first: the matcher returns its first tag when nothing matches.
	codes := []string{fallback}
	rest := make([]string, 0, len(bundles)-1)
	for code := range bundles {
		if code != fallback {
			rest = append(rest, code)
		}
	}
	sort.Strings(rest)
	codes = append(codes, rest...)

	tags := make([]language.Tag, 0, len(codes))
	for _, code := range codes {
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("parse language %q: %w", code, err)
		}
		tags = append(tags, tag)
	}

	return &Resolver{
		bundles:  bundles,
		codes:    codes,
		matcher:  language.NewMatcher(tags),
		fallback: fallback,
	}, nil
}

// Language picks the language for a user: session, then platform, then default.
func (r *Resolver) Language(sess domain.UserSession, platformCode string) string {
	if sess.HasLanguage() && r.Supported(sess.LanguageCode) {
		return sess.LanguageCode
	}
	if code, ok := r.Match(platformCode); ok {
		return code
	}
	return r.fallback
}

// Match maps a BCP 47 code such as "uk-UA" to a supported language.
func (r *Resolver) Match(code string) (string, bool) {
	if code == "" {
		return "", false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	_, idx, conf := r.matcher.Match(tag)
	if conf == language.No {
		return "", false
	}
	return r.codes[idx], true
}

// Supported reports whether a bundle exists for code.
func (r *Resolver) Supported(code string) bool {
	_, ok := r.bundles[code]
	return ok
}

// Options lists the language picker entries, default language first.
func (r *Resolver) Options() []Option {
	out := make([]Option, 0, len(r.codes))
	for _, code := range r.codes {
		out = append(out, Option{Code: code, Label: r.T(code, "language_name")})
	}
	return out
}

// T resolves key in lang. With args the message is used as a format string.
func (r *Resolver) T(lang, key string, args ...any) string {
	msg, ok := r.bundles[lang][key]
	if !ok {
		msg, ok = r.bundles[r.fallback][key]
	}
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// Pick selects the variant of a catalog text for lang with the same fallback
// rules as T. An empty string is returned when the text has no variants.
func (r *Resolver) Pick(lang string, text domain.LocalizedText) string {
	if s, ok := text[lang]; ok && s != "" {
		return s
	}
	if s, ok := text[r.fallback]; ok && s != "" {
		return s
	}
	for _, code := range r.codes {
		if s := text[code]; s != "" {
			return s
		}
	}
	return ""
}
