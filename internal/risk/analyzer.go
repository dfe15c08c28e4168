package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/intervention-gateway/internal/domain"
	"go.uber.org/zap"
)

// Blocker описывает возможности, необходимые анализатору для автобана.
// Реализовывать этот интерфейс будет BlocklistManager из пакета engine.
type Blocker interface {
	MarkAsBlocked(clientAddr string)
}

// Limit - порог на числовое поле JSON-тела запроса.
type Limit struct {
	Field     string           `mapstructure:"field" yaml:"field"`
	Threshold float64          `mapstructure:"threshold" yaml:"threshold"`
	Candidate domain.Candidate `mapstructure:",squash" yaml:",inline"`
	// Ban: клиент попадает в локальный блоклист, следующие запросы режутся на фазе connection
	Ban bool `mapstructure:"ban" yaml:"ban"`
}

// Analyzer - динамические лимиты на содержимое JSON-запросов (фаза request_body).
type Analyzer struct {
	limits  []Limit
	blocker Blocker
	logger  *zap.Logger
}

func NewAnalyzer(limits []Limit, blocker Blocker, logger *zap.Logger) *Analyzer {
	return &Analyzer{limits: limits, blocker: blocker, logger: logger.Named("analyzer")}
}

func (a *Analyzer) Evaluate(_ context.Context, tx *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error) {
	if phase != domain.PhaseRequestBody || len(a.limits) == 0 || len(tx.RequestBody) == 0 {
		return nil, nil
	}
	if !strings.Contains(tx.RequestHeaders.Get("Content-Type"), "json") {
		return nil, nil
	}

	// Универсальный подход: тело любого API как плоская мапа
	var requestData map[string]interface{}
	if err := json.Unmarshal(tx.RequestBody, &requestData); err != nil {
		// битый JSON - не наша зона, такие запросы ловят правила
		a.logger.Debug("failed to unmarshal request payload for risk analysis", zap.Error(err))
		return nil, nil
	}

	var out []domain.Candidate
	for _, l := range a.limits {
		rawValue, ok := requestData[l.Field]
		if !ok {
			continue
		}
		// В JSON числа всегда парсятся в float64
		val, ok := rawValue.(float64)
		if !ok || val <= l.Threshold {
			continue
		}

		a.logger.Warn("risk limit exceeded",
			zap.String("field", l.Field),
			zap.Float64("value", val),
			zap.Float64("threshold", l.Threshold),
			zap.String("client", tx.ClientAddr),
		)

		c := l.Candidate
		msg := fmt.Sprintf("%s=%g exceeds %g", l.Field, val, l.Threshold)
		if c.Log != "" {
			msg = c.Log + ": " + msg
		}
		c.Log = msg
		out = append(out, c)

		if l.Ban && a.blocker != nil && tx.ClientAddr != "" {
			a.blocker.MarkAsBlocked(tx.ClientAddr)
		}
	}
	return out, nil
}
