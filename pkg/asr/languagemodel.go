package asr

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// SessionScheme prefixes the URI of a grammar defined on the session.
const SessionScheme = "session:"

var allowedSchemes = map[string]struct{}{
	"file":    {},
	"builtin": {},
	"http":    {},
	"https":   {},
}

// LanguageModel is either a server-resolvable URI or an inline SRGS grammar.
type LanguageModel struct {
	uri   string
	alias string
	body  string
}

// URI references a model the server can resolve, e.g. "builtin:slm/general".
func URI(uri string) LanguageModel {
	return LanguageModel{uri: strings.TrimSpace(uri)}
}

// InlineGrammar carries an XML or ABNF grammar body registered under alias.
func InlineGrammar(alias string, body string) LanguageModel {
	return LanguageModel{alias: strings.TrimSpace(alias), body: body}
}

// GrammarFromFile reads an inline grammar body from path.
func GrammarFromFile(alias string, path string) (LanguageModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LanguageModel{}, fmt.Errorf("read grammar %s: %w", path, err)
	}
	return InlineGrammar(alias, string(data)), nil
}

// Inline reports whether the model must be defined with DEFINE_GRAMMAR.
func (lm LanguageModel) Inline() bool {
	return lm.alias != ""
}

// Alias returns the grammar alias of an inline model.
func (lm LanguageModel) Alias() string {
	return lm.alias
}

// Body returns the grammar body of an inline model.
func (lm LanguageModel) Body() string {
	return lm.body
}

// Ref is the URI sent in START_RECOGNITION.
func (lm LanguageModel) Ref() string {
	if lm.Inline() {
		return SessionScheme + lm.alias
	}
	return lm.uri
}

func (lm LanguageModel) String() string {
	return lm.Ref()
}

func (lm LanguageModel) validate() error {
	if lm.Inline() {
		if strings.ContainsAny(lm.alias, " \t\r\n:") {
			return fmt.Errorf("invalid grammar alias %q", lm.alias)
		}
		if strings.TrimSpace(lm.body) == "" {
			return fmt.Errorf("grammar %q has an empty body", lm.alias)
		}
		return nil
	}
	if lm.uri == "" {
		return errors.New("empty language model")
	}
	scheme, _, ok := strings.Cut(lm.uri, ":")
	if !ok {
		return fmt.Errorf("language model uri %q has no scheme", lm.uri)
	}
	if _, allowed := allowedSchemes[strings.ToLower(scheme)]; !allowed {
		return fmt.Errorf("language model uri %q: unsupported scheme %q", lm.uri, scheme)
	}
	return nil
}

// LanguageModelList is an ordered, non-empty set of language models.
type LanguageModelList struct {
	models []LanguageModel
}

// NewLanguageModelList validates models. Grammar aliases must be unique.
func NewLanguageModelList(models ...LanguageModel) (LanguageModelList, error) {
	if len(models) == 0 {
		return LanguageModelList{}, errors.New("language model list needs at least one model")
	}
	aliases := make(map[string]struct{})
	for _, lm := range models {
		if err := lm.validate(); err != nil {
			return LanguageModelList{}, err
		}
		if !lm.Inline() {
			continue
		}
		if _, dup := aliases[lm.alias]; dup {
			return LanguageModelList{}, fmt.Errorf("duplicate grammar alias %q", lm.alias)
		}
		aliases[lm.alias] = struct{}{}
	}
	return LanguageModelList{models: append([]LanguageModel(nil), models...)}, nil
}

// MustLanguageModelList is NewLanguageModelList that panics on error.
func MustLanguageModelList(models ...LanguageModel) LanguageModelList {
	list, err := NewLanguageModelList(models...)
	if err != nil {
		panic(err)
	}
	return list
}

// Models returns a copy of the models in order.
func (l LanguageModelList) Models() []LanguageModel {
	return append([]LanguageModel(nil), l.models...)
}

// Len returns the number of models.
func (l LanguageModelList) Len() int {
	return len(l.models)
}

// URIs returns the START_RECOGNITION uri list.
func (l LanguageModelList) URIs() []string {
	out := make([]string, 0, len(l.models))
	for _, lm := range l.models {
		out = append(out, lm.Ref())
	}
	return out
}
