package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saker-ai/asr-sdk-go/pkg/asr"
)

// LanguageModelEntry is one model of a manifest. Exactly one of URI, Grammar
// and GrammarFile is set; grammars also need an Alias.
type LanguageModelEntry struct {
	URI         string `yaml:"uri"`
	Alias       string `yaml:"alias"`
	Grammar     string `yaml:"grammar"`
	GrammarFile string `yaml:"grammar_file"`
}

type languageModelManifest struct {
	LanguageModels []LanguageModelEntry `yaml:"language_models"`
}

// ReadLanguageModels loads a YAML manifest. Grammar files are resolved relative
// to the manifest.
func ReadLanguageModels(path string) (asr.LanguageModelList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return asr.LanguageModelList{}, err
	}
	list, err := ParseLanguageModels(data, filepath.Dir(path))
	if err != nil {
		return asr.LanguageModelList{}, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

// ParseLanguageModels decodes a manifest. baseDir resolves relative grammar files.
func ParseLanguageModels(data []byte, baseDir string) (asr.LanguageModelList, error) {
	var manifest languageModelManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return asr.LanguageModelList{}, fmt.Errorf("parse language models: %w", err)
	}

	models := make([]asr.LanguageModel, 0, len(manifest.LanguageModels))
	for i, entry := range manifest.LanguageModels {
		lm, err := entry.model(baseDir)
		if err != nil {
			return asr.LanguageModelList{}, fmt.Errorf("language model %d: %w", i, err)
		}
		models = append(models, lm)
	}
	return asr.NewLanguageModelList(models...)
}

func (e LanguageModelEntry) model(baseDir string) (asr.LanguageModel, error) {
	set := 0
	for _, v := range []string{e.URI, e.Grammar, e.GrammarFile} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return asr.LanguageModel{}, fmt.Errorf("exactly one of uri, grammar, grammar_file is required")
	}

	switch {
	case e.URI != "":
		return asr.URI(e.URI), nil
	case e.Alias == "":
		return asr.LanguageModel{}, fmt.Errorf("grammar needs an alias")
	case e.Grammar != "":
		return asr.InlineGrammar(e.Alias, e.Grammar), nil
	default:
		return asr.GrammarFromFile(e.Alias, resolvePath(baseDir, e.GrammarFile, ""))
	}
}
