package engine

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"go.uber.org/zap"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const txIDKey ctxKey = "tx_id"

const TransactionIDHeader = "X-Transaction-ID"

// TracingMiddleware инициализирует ID транзакции для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Пытаемся достать ID из заголовка (если пришел от балансировщика)
		txID := r.Header.Get(TransactionIDHeader)

		// 2. Если его нет - генерируем новый
		if txID == "" {
			txID = uuid.New().String()
		}

		// 3. Кладем в контекст
		ctx := context.WithValue(r.Context(), txIDKey, txID)

		// 4. Добавляем в ответ, чтобы клиент тоже знал ID своего запроса
		w.Header().Set(TransactionIDHeader, txID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TransactionID безопасно достает ID транзакции из контекста. Пустая строка, если его нет.
func TransactionID(ctx context.Context) string {
	if id, ok := ctx.Value(txIDKey).(string); ok {
		return id
	}
	return ""
}

// Gateway встраивает инспекцию в HTTP-пайплайн: фазы запроса, вызов upstream в буфер,
// фазы ответа, logging. На вмешательстве ответ формирует ActionExecutor.
type Gateway struct {
	core    *Core
	exec    ActionExecutor
	maxBody int64
	logger  *zap.Logger
}

func NewGateway(core *Core, exec ActionExecutor, maxBodyBytes int64, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Gateway{
		core:    core,
		exec:    exec,
		maxBody: maxBodyBytes,
		logger:  logger.Named("gateway"),
	}
}

var requestPhases = []domain.Phase{
	domain.PhaseConnection,
	domain.PhaseURI,
	domain.PhaseRequestHeaders,
	domain.PhaseRequestBody,
}

var responsePhases = []domain.Phase{
	domain.PhaseResponseHeaders,
	domain.PhaseResponseBody,
}

func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tx := newTransaction(r)

		in, err := g.core.Begin(tx)
		if err != nil {
			g.logger.Error("inspection not started", zap.String("tx_id", tx.ID), zap.Error(err))
			if g.core.failClosed {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		// Запись освобождается при любом исходе, включая панику в upstream
		defer in.Close()
		defer g.logging(ctx, in)

		for _, phase := range requestPhases {
			if phase == domain.PhaseRequestBody {
				if err := g.readBody(r, tx); err != nil {
					g.core.metrics.ErrorTotal.WithLabelValues("body_read").Inc()
					g.logger.Warn("request body read failed", zap.String("tx_id", tx.ID), zap.Error(err))
				}
			}
			if stop, _ := in.Process(ctx, phase); stop {
				g.execute(ctx, w, r, in)
				return
			}
		}

		// continue: исполнитель выдерживает паузу, если она назначена
		if g.execute(ctx, w, r, in) {
			return
		}
		paused := in.Current().PauseMs()

		rec := newBufferedWriter()
		next.ServeHTTP(rec, r)

		tx.ResponseStatus = rec.status
		tx.ResponseHeaders = rec.header
		tx.ResponseBody = rec.body.Bytes()
		if int64(len(tx.ResponseBody)) > g.maxBody {
			tx.ResponseBody = tx.ResponseBody[:g.maxBody]
		}

		for _, phase := range responsePhases {
			if stop, _ := in.Process(ctx, phase); stop {
				g.execute(ctx, w, r, in)
				return
			}
		}

		// пауза - максимум по транзакции: досыпаем только то, что добавили фазы ответа
		if extra := in.Current().PauseMs() - paused; extra > 0 {
			g.exec.Execute(ctx, w, r, domain.NewIntervention(domain.ActionAllow, domain.StatusClean, "", false, "", false, extra))
		}
		rec.flushTo(w)
	})
}

// execute запечатывает запись и передаёт решение исполнителю.
func (g *Gateway) execute(ctx context.Context, w http.ResponseWriter, r *http.Request, in *Inspection) bool {
	iv := in.Current()
	if iv.Disruptive() {
		var err error
		if iv, err = in.Finalize(); err != nil {
			g.logger.Error("finalize failed", zap.String("tx_id", in.tx.ID), zap.Error(err))
		}
	}
	return g.exec.Execute(ctx, w, r, iv)
}

// logging - фаза после отправки ответа: только накопление лога для аудита.
func (g *Gateway) logging(ctx context.Context, in *Inspection) {
	if _, err := in.Process(ctx, domain.PhaseLogging); err != nil {
		g.logger.Debug("logging phase finished with errors", zap.String("tx_id", in.tx.ID), zap.Error(err))
	}
}

// readBody читает до maxBody байт тела для инспекции и возвращает тело upstream'у целиком.
func (g *Gateway) readBody(r *http.Request, tx *domain.Transaction) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, g.maxBody))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	tx.RequestBody = buf
	return err
}

func newTransaction(r *http.Request) *domain.Transaction {
	tx := &domain.Transaction{
		ID:             TransactionID(r.Context()),
		Method:         r.Method,
		URI:            r.URL.RequestURI(),
		Protocol:       r.Proto,
		RequestHeaders: r.Header.Clone(),
	}
	if r.RequestURI != "" {
		tx.URI = r.RequestURI
	}
	tx.ClientAddr, tx.ClientPort = splitHostPort(r.RemoteAddr)
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		tx.ServerAddr, tx.ServerPort = splitHostPort(addr.String())
	}
	return tx
}

// splitHostPort никогда не падает: при кривом адресе возвращает что смог и порт 0.
func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// bufferedWriter держит ответ upstream'а до завершения фаз ответа.
type bufferedWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = code
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
