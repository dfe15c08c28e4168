package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xela07ax/intervention-gateway/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ruleFile - формат файла: список правил под ключом rules.
type ruleFile struct {
	Rules []domain.Rule `yaml:"rules"`
}

// LoadDir читает все *.yaml/*.yml каталога в отсортированном порядке.
// Битый файл логируется и пропускается, остальные грузятся. Отсутствие каталога - ошибка.
func LoadDir(dir string, logger *zap.Logger) ([]domain.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isRuleFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var rules []domain.Rule
	for _, name := range names {
		path := filepath.Join(dir, name)
		logger.Debug("loading rules file", zap.String("file", path))

		fileRules, err := LoadFile(path)
		if err != nil {
			logger.Error("error loading rules file", zap.String("file", path), zap.Error(err))
			continue
		}
		rules = append(rules, fileRules...)
	}
	return rules, nil
}

func LoadFile(path string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	for i := range f.Rules {
		if err := f.Rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return f.Rules, nil
}

func isRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
