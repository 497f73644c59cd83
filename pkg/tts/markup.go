package tts

import (
	_ "embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
)

//go:embed default_ssml.xml
var defaultTemplate string

// legacyPlaceholders maps single-brace placeholders used by older template
// files onto template actions.
var legacyPlaceholders = strings.NewReplacer(
	"{speech_language}", "{{.Language}}",
	"{voice_name}", "{{.Voice}}",
	"{rate}", "{{.Rate}}",
	"{text}", "{{.Text}}",
)

// Fields are the values substituted into a markup template.
type Fields struct {
	Language string
	Voice    string
	Rate     string
	Text     string
}

// Markup renders SSML documents from a fixed template. Rendering is a
// pure function of the fields and safe for concurrent use.
type Markup struct {
	tmpl *template.Template
}

// NewMarkup parses src as a markup template. Both {{.Language}} style
// actions and the {speech_language}, {voice_name}, {rate}, {text}
// placeholders are accepted. The template must render well-formed XML.
func NewMarkup(src string) (*Markup, error) {
	tmpl, err := template.New("ssml").Option("missingkey=error").Parse(legacyPlaceholders.Replace(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkup, err)
	}
	m := &Markup{tmpl: tmpl}

	doc, err := m.Render(Fields{Language: "en-US", Voice: "voice", Rate: "1.0", Text: "probe"})
	if err != nil {
		return nil, err
	}
	if err := wellFormed(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkup, err)
	}
	return m, nil
}

// LoadMarkup reads a template file. An empty path returns DefaultMarkup.
func LoadMarkup(path string) (*Markup, error) {
	if path == "" {
		return DefaultMarkup(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tts: load markup template: %w", err)
	}
	return NewMarkup(string(src))
}

// DefaultMarkup returns the built-in template.
func DefaultMarkup() *Markup {
	m, err := NewMarkup(defaultTemplate)
	if err != nil {
		panic(err)
	}
	return m
}

// Render substitutes the XML-escaped fields into the template.
func (m *Markup) Render(f Fields) (string, error) {
	escaped := Fields{
		Language: escape(f.Language),
		Voice:    escape(f.Voice),
		Rate:     escape(f.Rate),
		Text:     escape(f.Text),
	}

	var b strings.Builder
	if err := m.tmpl.Execute(&b, escaped); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMarkup, err)
	}
	return b.String(), nil
}

func escape(s string) string {
	var b strings.Builder
	// EscapeText only fails if the writer does.
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// wellFormed reports whether doc parses as XML.
func wellFormed(doc string) error {
	d := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
