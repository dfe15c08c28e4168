package connectors

/*
Файл detector.go - клиент внешнего сервиса скоринга.

Шлюз отправляет JSON-описание транзакции и фазы, сервис возвращает список кандидатов
в том же формате, что и правила. 429 с Retry-After превращается в ThrottleError,
чтобы обёртка с ретраями выждала ровно столько, сколько просит сервис.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/intervention-gateway/internal/domain"
)

// defaultRetryAfter - если сервис не прислал Retry-After.
const defaultRetryAfter = time.Second

type detectorRequest struct {
	TransactionID string              `json:"transaction_id"`
	Phase         domain.Phase        `json:"phase"`
	ClientAddr    string              `json:"client_addr"`
	Method        string              `json:"method"`
	URI           string              `json:"uri"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          string              `json:"body,omitempty"`
}

type detectorResponse struct {
	Candidates []domain.Candidate `json:"candidates"`
}

type Detector struct {
	url    string
	client *http.Client
	phases map[domain.Phase]bool
}

// NewDetector создаёт клиента. Без явного списка фаз детектор вызывается на request_headers и request_body.
func NewDetector(url string, timeout time.Duration, phases ...domain.Phase) *Detector {
	if len(phases) == 0 {
		phases = []domain.Phase{domain.PhaseRequestHeaders, domain.PhaseRequestBody}
	}
	set := make(map[domain.Phase]bool, len(phases))
	for _, p := range phases {
		set[p] = true
	}
	return &Detector{
		url:    url,
		client: &http.Client{Timeout: timeout},
		phases: set,
	}
}

func (d *Detector) Evaluate(ctx context.Context, tx *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error) {
	if !d.phases[phase] {
		return nil, nil
	}

	req := detectorRequest{
		TransactionID: tx.ID,
		Phase:         phase,
		ClientAddr:    tx.ClientAddr,
		Method:        tx.Method,
		URI:           tx.URI,
	}
	if phase >= domain.PhaseRequestHeaders {
		req.Headers = tx.RequestHeaders
	}
	if phase >= domain.PhaseRequestBody {
		req.Body = string(tx.RequestBody)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detector request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if tx.ID != "" {
		httpReq.Header.Set("X-Transaction-ID", tx.ID)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("detector returned %d", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrDetectorUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetectorRejected, resp.StatusCode, bytes.TrimSpace(body))
	}

	var out detectorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode detector response: %w", err)
	}
	return out.Candidates, nil
}

// parseRetryAfter понимает оба формата заголовка: секунды и HTTP-дату.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
