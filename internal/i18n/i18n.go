package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"banknotify/internal/templatefmt"

	"golang.org/x/text/language"
)

// DefaultLang is used when requested language has no dictionary.
const DefaultLang = "en"

//go:embed locales/*.json
var embedded embed.FS

var (
	supported = []language.Tag{language.English, language.French}
	matcher   = language.NewMatcher(supported)
)

// TranslateFunc renders one locale key with template params.
// Params: dictionary key and template data.
// Returns: rendered text or the key itself when missing.
type TranslateFunc func(key string, params map[string]any) string

// Dictionary is one loaded locale.
// Params: base language code and raw message templates by key.
// Returns: translation source bound to one language.
type Dictionary struct {
	Lang     string
	Messages map[string]string
}

// Catalog holds all dictionaries available to a process.
// Params: dictionaries by base language code.
// Returns: resolver for requested languages.
type Catalog struct {
	dictionaries map[string]Dictionary
}

// Load builds catalog from embedded locales and optional override directory.
// Params: optional directory with `<lang>.json` files overriding embedded keys.
// Returns: catalog or read/decode error.
func Load(overrideDir string) (*Catalog, error) {
	catalog := &Catalog{dictionaries: make(map[string]Dictionary)}
	entries, err := embedded.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read embedded locales: %w", err)
	}
	for _, entry := range entries {
		body, err := embedded.ReadFile("locales/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded locale %q: %w", entry.Name(), err)
		}
		if err := catalog.merge(strings.TrimSuffix(entry.Name(), ".json"), body); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(overrideDir) == "" {
		return catalog, nil
	}
	files, err := filepath.Glob(filepath.Join(overrideDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list locale dir %q: %w", overrideDir, err)
	}
	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read locale file %q: %w", file, err)
		}
		if err := catalog.merge(strings.TrimSuffix(filepath.Base(file), ".json"), body); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// merge decodes one locale file into catalog, overriding existing keys.
// Params: language code and JSON object body.
// Returns: decode or template parse error.
func (c *Catalog) merge(lang string, body []byte) error {
	var messages map[string]string
	if err := json.Unmarshal(body, &messages); err != nil {
		return fmt.Errorf("decode locale %q: %w", lang, err)
	}
	for key, message := range messages {
		if _, err := templatefmt.ParseTemplate(lang+"."+key, message); err != nil {
			return fmt.Errorf("locale %q key %q: %w", lang, key, err)
		}
	}
	lang = baseLang(lang)
	dict, ok := c.dictionaries[lang]
	if !ok {
		dict = Dictionary{Lang: lang, Messages: make(map[string]string, len(messages))}
	}
	for key, message := range messages {
		dict.Messages[key] = message
	}
	c.dictionaries[lang] = dict
	return nil
}

// Resolve picks the closest dictionary for a requested language code.
// Params: raw language code such as "fr", "fr-FR", or "".
// Returns: matched dictionary (default language when unmatched).
func (c *Catalog) Resolve(lang string) Dictionary {
	if dict, ok := c.dictionaries[baseLang(lang)]; ok {
		return dict
	}
	if tag, err := language.Parse(strings.TrimSpace(lang)); err == nil {
		_, index, confidence := matcher.Match(tag)
		if confidence != language.No {
			base, _ := supported[index].Base()
			if dict, ok := c.dictionaries[base.String()]; ok {
				return dict
			}
		}
	}
	if dict, ok := c.dictionaries[DefaultLang]; ok {
		return dict
	}
	return Dictionary{Lang: DefaultLang, Messages: map[string]string{}}
}

// Translator binds dictionary into a translation function.
// Params: none.
// Returns: TranslateFunc rendering templates from this dictionary.
func (d Dictionary) Translator() TranslateFunc {
	compiled := make(map[string]*template.Template, len(d.Messages))
	for key, message := range d.Messages {
		tmpl, err := templatefmt.ParseTemplate(d.Lang+"."+key, message)
		if err != nil {
			continue
		}
		compiled[key] = tmpl
	}
	return func(key string, params map[string]any) string {
		tmpl, ok := compiled[key]
		if !ok {
			return key
		}
		var out strings.Builder
		if err := tmpl.Execute(&out, params); err != nil {
			return key
		}
		return out.String()
	}
}

// baseLang normalizes language code to its lower-case base subtag.
// Params: raw code such as "fr_FR" or "EN".
// Returns: base code such as "fr".
func baseLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		lang = lang[:idx]
	}
	return lang
}
