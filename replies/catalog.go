// Package replies renders the bot's reply texts from a per-language catalog
// of text templates.
package replies

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidCatalog is returned for a malformed catalog document.
	ErrInvalidCatalog = errors.New("invalid reply catalog")
	// ErrUnknownTemplate is returned when rendering a template no language defines.
	ErrUnknownTemplate = errors.New("unknown reply template")
)

// Document is the on-disk catalog shape.
type Document struct {
	Default   string                    `yaml:"default"`
	Languages map[string]LanguageConfig `yaml:"languages"`
}

// LanguageConfig declares one language. Options are the menu answers that
// select it when the user is asked for a language.
type LanguageConfig struct {
	Tag       string            `yaml:"tag"`
	Name      string            `yaml:"name,omitempty"`
	Options   []string          `yaml:"options,omitempty"`
	Templates map[string]string `yaml:"templates"`
}

type catalogLanguage struct {
	code      string
	tag       language.Tag
	options   []string
	templates *template.Template
}

// Catalog renders named templates for a user's language. It is immutable
// once loaded and safe for concurrent use.
type Catalog struct {
	def     string
	codes   []string
	langs   map[string]*catalogLanguage
	matcher language.Matcher
}

// Load reads a catalog from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read reply catalog %q: %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromFS reads a catalog from fsys.
func LoadFromFS(fsys fs.FS, path string) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply catalog from FS: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses a catalog document and compiles its templates.
func LoadFromBytes(data []byte) (*Catalog, error) {
	var doc Document

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	return New(doc)
}

// New compiles a catalog document.
func New(doc Document) (*Catalog, error) {
	if len(doc.Languages) == 0 {
		return nil, fmt.Errorf("%w: no languages", ErrInvalidCatalog)
	}

	if _, ok := doc.Languages[doc.Default]; !ok {
		return nil, fmt.Errorf("%w: default language %q is not declared", ErrInvalidCatalog, doc.Default)
	}

	catalog := &Catalog{
		def:   doc.Default,
		langs: make(map[string]*catalogLanguage, len(doc.Languages)),
	}

	// The default language goes first so that it wins matcher ties.
	catalog.codes = append(catalog.codes, doc.Default)
	for _, code := range slices.Sorted(maps.Keys(doc.Languages)) {
		if code != doc.Default {
			catalog.codes = append(catalog.codes, code)
		}
	}

	tags := make([]language.Tag, 0, len(catalog.codes))

	for _, code := range catalog.codes {
		cfg := doc.Languages[code]

		lang, err := compileLanguage(code, cfg)
		if err != nil {
			return nil, err
		}

		catalog.langs[code] = lang
		tags = append(tags, lang.tag)
	}

	catalog.matcher = language.NewMatcher(tags)

	return catalog, nil
}

func compileLanguage(code string, cfg LanguageConfig) (*catalogLanguage, error) {
	tagText := cfg.Tag
	if tagText == "" {
		tagText = strings.ReplaceAll(code, "_", "-")
	}

	tag, err := language.Parse(tagText)
	if err != nil {
		return nil, fmt.Errorf("%w: language %s: %w", ErrInvalidCatalog, code, err)
	}

	root := template.New(code).Option("missingkey=error")

	for _, name := range slices.Sorted(maps.Keys(cfg.Templates)) {
		if _, err := root.New(name).Parse(cfg.Templates[name]); err != nil {
			return nil, fmt.Errorf("%w: language %s: template %s: %w", ErrInvalidCatalog, code, name, err)
		}
	}

	return &catalogLanguage{
		code:      code,
		tag:       tag,
		options:   cfg.Options,
		templates: root,
	}, nil
}

// Default returns the default language code.
func (c *Catalog) Default() string {
	return c.def
}

// Languages returns the declared language codes, default first.
func (c *Catalog) Languages() []string {
	return slices.Clone(c.codes)
}

// Match returns the catalog language best suited to lang, which may be a
// catalog code ("zh_tw") or a BCP 47 tag ("zh-Hant-TW"). Unknown or empty
// values match the default language.
func (c *Catalog) Match(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return c.def
	}

	if _, ok := c.langs[lang]; ok {
		return lang
	}

	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil {
		return c.def
	}

	_, idx, confidence := c.matcher.Match(tag)
	if confidence == language.No {
		return c.def
	}

	return c.codes[idx]
}

// ResolveLanguage maps a user's answer to the language question to a
// catalog code. Menu options and catalog codes are accepted, the latter
// case-insensitively.
func (c *Catalog) ResolveLanguage(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}

	for _, code := range c.codes {
		if slices.Contains(c.langs[code].options, input) {
			return code, true
		}
	}

	lowered := strings.ToLower(input)
	if _, ok := c.langs[lowered]; ok {
		return lowered, true
	}

	return "", false
}

// Has reports whether any language defines the named template.
func (c *Catalog) Has(name string) bool {
	for _, lang := range c.langs {
		if lang.templates.Lookup(name) != nil {
			return true
		}
	}

	return false
}

// Render executes the named template for lang. Templates missing from the
// matched language fall back to the default language.
func (c *Catalog) Render(lang, name string, data any) (string, error) {
	tmpl := c.langs[c.Match(lang)].templates.Lookup(name)
	if tmpl == nil {
		tmpl = c.langs[c.def].templates.Lookup(name)
	}

	if tmpl == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
