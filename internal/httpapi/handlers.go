package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"buddypay.org/internal/audit"
	"buddypay.org/internal/auth"
	"buddypay.org/internal/ledger"
	"buddypay.org/internal/obs"
	"buddypay.org/internal/stream"
)

const serviceName = "buddypay-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe — проверка готовности: ping хранилища леджера.
type ReadyProbe struct {
	Store interface {
		Ping(ctx context.Context) error
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Services are the ledger facades the API drives.
type Services struct {
	Engine       *ledger.Engine
	Accounts     *ledger.Accounts
	Fees         *ledger.FeeSchedule
	Relations    *ledger.Relations
	Monetization *ledger.Monetization
	Directory    *ledger.Directory
	Banking      *ledger.Banking
}

// NewServices builds every facade over one store with shared options.
func NewServices(store ledger.Store, opts ...ledger.Option) Services {
	return Services{
		Engine:       ledger.NewEngine(store, opts...),
		Accounts:     ledger.NewAccounts(store, opts...),
		Fees:         ledger.NewFeeSchedule(store, opts...),
		Relations:    ledger.NewRelations(store, opts...),
		Monetization: ledger.NewMonetization(store, opts...),
		Directory:    ledger.NewDirectory(store, opts...),
		Banking:      ledger.NewBanking(store, opts...),
	}
}

// Options tune the transport.
type Options struct {
	Version     string
	Tokens      *auth.TokenManager
	DevTokens   bool
	Stream      *stream.Stream
	Logger      *slog.Logger
	RateBurst   int
	RatePerSec  int
	CORSOrigins []string
}

// API — HTTP слой.
type API struct {
	svc        Services
	readyProbe readinessChecker
	tokens     *auth.TokenManager
	devTokens  bool
	stream     *stream.Stream
	log        *slog.Logger
	audit      *audit.Logger
	version    string
	rateBurst  int
	ratePerSec int
	origins    []string
}

func New(svc Services, rp readinessChecker, opts Options) *API {
	a := &API{
		svc:        svc,
		readyProbe: rp,
		tokens:     opts.Tokens,
		devTokens:  opts.DevTokens,
		stream:     opts.Stream,
		log:        opts.Logger,
		version:    opts.Version,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		origins:    opts.CORSOrigins,
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	a.audit = audit.New(a.log)
	return a
}

// Handler возвращает http.Handler для сервера.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON(a.log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.origins))
	r.Use(MaxBodyBytes(1 << 20))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
		r.Get("/info", a.Info)
		r.Post("/auth/register", a.register)
		r.Post("/auth/token", a.issueToken)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Get("/events", a.Stream)

			r.Route("/me", func(r chi.Router) {
				r.Get("/", a.me)
				r.Get("/account", a.myAccount)
				r.Get("/limits", a.myLimits)
				r.Get("/transactions", a.myTransactions)

				r.Get("/relations", a.listRelations)
				r.Post("/relations", a.addRelation)
				r.Delete("/relations/{id}", a.removeRelation)

				r.Get("/bank-accounts", a.listBankAccounts)
				r.Post("/bank-accounts", a.linkBankAccount)
				r.Post("/bank-accounts/{id}/deposit", a.deposit)
				r.Post("/bank-accounts/{id}/withdraw", a.withdraw)
				r.Put("/bank-accounts/{id}/active", a.setBankAccountActive)
			})

			r.Post("/transactions", a.createTransaction)
			r.Get("/transactions/{id}", a.getTransaction)
			r.Post("/transactions/{id}/cancel", a.cancelTransaction)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(string(ledger.RoleAdmin)))

				r.Get("/fees", a.listFees)
				r.Post("/fees", a.createFee)
				r.Get("/fees/active", a.activeFee)
				r.Put("/fees/{id}", a.updateFee)
				r.Delete("/fees/{id}", a.deleteFee)

				r.Get("/revenue", a.revenue)
				r.Get("/monetization/{id}", a.monetizationEntry)

				r.Get("/roles", a.listRoles)
				r.Put("/roles/{name}", a.setRoleLimit)

				r.Get("/users", a.listUsers)
				r.Post("/users", a.createUser)
				r.Put("/users/{id}", a.updateUser)
				r.Put("/users/{id}/role", a.changeRole)
				r.Delete("/users/{id}", a.deleteUser)
				r.Get("/users/{id}/transactions", a.userTransactions)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// оборачиваем весь роутер метриками
	return obs.Instrument(r)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		a.log.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// caller returns the principal stored by authenticate.
func caller(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func (a *API) logAudit(ctx context.Context, event string, fields map[string]any) {
	if err := a.audit.LogEvent(ctx, event, fields); err != nil {
		a.log.Error("audit log failed", "event", event, "error", err)
	}
}
