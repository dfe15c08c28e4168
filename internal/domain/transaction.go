package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// Phase - фаза обработки транзакции. После каждой (кроме Logging) проверяется вмешательство.
type Phase int

const (
	PhaseConnection Phase = iota
	PhaseURI
	PhaseRequestHeaders
	PhaseRequestBody
	PhaseResponseHeaders
	PhaseResponseBody
	PhaseLogging
)

var phaseNames = [...]string{
	PhaseConnection:      "connection",
	PhaseURI:             "uri",
	PhaseRequestHeaders:  "request_headers",
	PhaseRequestBody:     "request_body",
	PhaseResponseHeaders: "response_headers",
	PhaseResponseBody:    "response_body",
	PhaseLogging:         "logging",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

func ParsePhase(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return PhaseConnection, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Transaction - то, что видит оценщик правил. Отсутствующие данные - пустые строки и нули, не nil.
type Transaction struct {
	ID string

	ClientAddr string
	ClientPort int
	ServerAddr string
	ServerPort int

	Method   string
	URI      string
	Protocol string // "1.1", "2.0"

	RequestHeaders http.Header
	RequestBody    []byte

	ResponseStatus  int
	ResponseHeaders http.Header
	ResponseBody    []byte
}
