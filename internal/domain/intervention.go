package domain

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Action - основной (disruptive) эффект решения по транзакции.
// Порядок значений совпадает с приоритетом: Abort > Redirect > Allow.
type Action int

const (
	ActionAllow    Action = iota // Пропустить (continue)
	ActionRedirect               // Перенаправить на URL
	ActionAbort                  // Прервать обработку (block)
)

const (
	// StatusClean - статус "решения нет", как у чистой записи ModSecurity.
	StatusClean = http.StatusOK

	DefaultAbortStatus    = http.StatusForbidden
	DefaultRedirectStatus = http.StatusFound

	// LogDelimiter разделяет сообщения разных правил в накопленном логе.
	LogDelimiter = "; "
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionRedirect:
		return "redirect"
	case ActionAbort:
		return "abort"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Outranks сообщает, что a строго приоритетнее b.
func (a Action) Outranks(b Action) bool { return a > b }

// Disruptive - true, если действие останавливает обычный поток транзакции.
func (a Action) Disruptive() bool { return a != ActionAllow }

// ParseAction разбирает имя действия из конфигов и БД ("block" - синоним "abort").
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow", "continue", "pass":
		return ActionAllow, nil
	case "redirect":
		return ActionRedirect, nil
	case "abort", "block", "deny":
		return ActionAbort, nil
	default:
		return ActionAllow, fmt.Errorf("unknown action %q", s)
	}
}

// MarshalText / UnmarshalText нужны для yaml и json представления правил.
func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Candidate - вмешательство, предложенное одним сработавшим правилом (до слияния).
type Candidate struct {
	Action  Action `json:"action" yaml:"action" mapstructure:"action"`
	Status  int    `json:"status,omitempty" yaml:"status,omitempty" mapstructure:"status"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	Log     string `json:"log,omitempty" yaml:"log,omitempty" mapstructure:"log"`
	PauseMs int64  `json:"pause_ms,omitempty" yaml:"pause_ms,omitempty" mapstructure:"pause_ms"`
}

// Intervention - неизменяемый снимок итогового решения, который получает Action Executor.
// Поля закрыты: читать только через аксессоры.
type Intervention struct {
	action  Action
	status  int
	url     string
	hasURL  bool
	log     string
	hasLog  bool
	pauseMs int64
}

// CleanIntervention возвращает "чистое" решение: allow, 200, без url и лога, без паузы.
func CleanIntervention() Intervention {
	return Intervention{action: ActionAllow, status: StatusClean}
}

// NewIntervention собирает снимок. Инвариант url <=> redirect соблюдается здесь же.
func NewIntervention(action Action, status int, url string, hasURL bool, log string, hasLog bool, pauseMs int64) Intervention {
	if action != ActionRedirect {
		url, hasURL = "", false
	}
	if pauseMs < 0 {
		pauseMs = 0
	}
	return Intervention{
		action:  action,
		status:  status,
		url:     url,
		hasURL:  hasURL,
		log:     log,
		hasLog:  hasLog,
		pauseMs: pauseMs,
	}
}

func (i Intervention) Action() Action { return i.action }
func (i Intervention) Status() int    { return i.status }

func (i Intervention) URL() (string, bool) { return i.url, i.hasURL }
func (i Intervention) Log() (string, bool) { return i.log, i.hasLog }

func (i Intervention) PauseMs() int64 { return i.pauseMs }

func (i Intervention) Pause() time.Duration { return time.Duration(i.pauseMs) * time.Millisecond }

// Disruptive - нужно ли исполнителю прерывать обычный поток.
func (i Intervention) Disruptive() bool { return i.action.Disruptive() }
