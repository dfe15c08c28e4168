package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/intervention-gateway/internal/console/handler"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики
	authHandler      *handler.AuthHandler      // /auth/token (nil - токены выпускает внешний IdP)
	ruleHandler      *handler.RuleHandler      // /v1/rules
	blocklistHandler *handler.BlocklistHandler // /v1/blocklist
	auditHandler     *handler.AuditHandler     // /v1/audit (журнал вмешательств)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	ruleH *handler.RuleHandler,
	blocklistH *handler.BlocklistHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:           chi.NewRouter(),
		logger:           logger.Named("console-api"),
		authValidator:    validator,
		authHandler:      authH,
		ruleHandler:      ruleH,
		blocklistHandler: blocklistH,
		auditHandler:     auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		if s.authHandler != nil {
			r.Post("/auth/token", s.authHandler.Login)
		}

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Правила (источник кандидатов для шлюзов)
		r.Route("/v1/rules", func(r chi.Router) {
			r.With(auth.RequireScope(domain.ScopeRulesRead)).Get("/", s.ruleHandler.List)
			r.With(auth.RequireScope(domain.ScopeRulesWrite)).Post("/", s.ruleHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.With(auth.RequireScope(domain.ScopeRulesRead)).Get("/", s.ruleHandler.Get)
				r.With(auth.RequireScope(domain.ScopeRulesWrite)).Put("/", s.ruleHandler.Update)
				r.With(auth.RequireScope(domain.ScopeRulesWrite)).Delete("/", s.ruleHandler.Delete)
			})
		})

		// Блоклист клиентов (мгновенная блокировка на фазе connection)
		r.Route("/v1/blocklist/{ip}", func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeBlocklistWrite))
			r.Post("/block", s.blocklistHandler.Block)
			r.Post("/unblock", s.blocklistHandler.Unblock)
		})

		// Журнал вмешательств
		r.With(auth.RequireScope(domain.ScopeAuditRead)).Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
