package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/service"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator"
	"github.com/google/uuid"
)

type CheckoutService interface {
	Checkout(ctx context.Context, cmd service.CheckoutCommand) (*service.CheckoutResult, error)
	RetryPayment(ctx context.Context, actor domain.Actor, orderID uuid.UUID, method domain.PaymentMethod, phone string) (*service.CheckoutResult, error)
}

type QueryService interface {
	GetOrder(ctx context.Context, actor domain.Actor, id uuid.UUID) (*service.OrderDetails, error)
	ListOrders(ctx context.Context, actor domain.Actor, limit, offset int) ([]*domain.Order, error)
	GetPayment(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Payment, error)
}

type StatusAwaiter interface {
	Await(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*service.PollResult, error)
}

// Reconciler is the slice of the state machine the API drives directly.
type Reconciler interface {
	Apply(ctx context.Context, event domain.Event) (*domain.ApplyResult, error)
	Verify(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.ApplyResult, error)
}

type PrescriptionService interface {
	Upload(ctx context.Context, actor domain.Actor, cmd service.UploadCommand) (*domain.Prescription, error)
	Review(ctx context.Context, actor domain.Actor, cmd service.ReviewCommand) (*domain.Prescription, *domain.ApplyResult, error)
	ImageURL(ctx context.Context, actor domain.Actor, id uuid.UUID) (string, error)
}

type CallbackHandler interface {
	Handle(ctx context.Context, method domain.PaymentMethod, in service.InboundCallback) (*domain.CallbackNotice, *domain.ApplyResult, error)
}

type CallbackFinder interface {
	Find(ctx context.Context, method domain.PaymentMethod, ref string, limit int64) ([]ports.CallbackRecord, error)
}

// Services groups what the API depends on. Every service is required; Probes may be empty.
type Services struct {
	Checkout      CheckoutService
	Queries       QueryService
	Poller        StatusAwaiter
	Reconciler    Reconciler
	Prescriptions PrescriptionService
	Callbacks     CallbackHandler
	CallbackLog   CallbackFinder
	// Probes are checked by /readyz, keyed by dependency name.
	Probes map[string]Probe
}

type Probe func(ctx context.Context) error

type RouterConfig struct {
	AllowedOrigins   []string
	WebhookRateLimit int
	// RequestTimeout applies to every route except the status long-poll.
	RequestTimeout time.Duration
}

type Handler struct {
	checkout      CheckoutService
	queries       QueryService
	poller        StatusAwaiter
	reconciler    Reconciler
	prescriptions PrescriptionService
	callbacks     CallbackHandler
	callbackLog   CallbackFinder
	probes        map[string]Probe
	auth          *Authenticator
	docs          *openapi3.T
	validate      *validator.Validate
	logger        *slog.Logger
}

func NewHandler(svc Services, auth *Authenticator, logger *slog.Logger) (*Handler, error) {
	docs, err := LoadOpenAPI()
	if err != nil {
		return nil, err
	}

	return &Handler{
		checkout:      svc.Checkout,
		queries:       svc.Queries,
		poller:        svc.Poller,
		reconciler:    svc.Reconciler,
		prescriptions: svc.Prescriptions,
		callbacks:     svc.Callbacks,
		callbackLog:   svc.CallbackLog,
		probes:        svc.Probes,
		auth:          auth,
		docs:          docs,
		validate:      validator.New(),
		logger:        logger,
	}, nil
}

// Routes builds the full router, middleware included.
func (h *Handler) Routes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Recovery(h.logger))
	r.Use(Logging(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(Timeout(cfg.RequestTimeout))

		r.Get("/healthz", h.HandleHealth)
		r.Get("/readyz", h.HandleReady)
		r.Get("/openapi.json", h.HandleOpenAPI)

		r.Route("/webhooks", func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.WebhookRateLimit, time.Second))
			r.Post("/mpesa", h.HandleMpesaCallback)
			r.Get("/pesapal", h.HandlePesapalIPN)
			r.Post("/pesapal", h.HandlePesapalIPN)
			r.Post("/paypal", h.HandlePayPalWebhook)
			r.Post("/flutterwave", h.HandleFlutterwaveWebhook)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Authenticate)

			r.Post("/orders", h.HandleCheckout)
			r.Get("/orders", h.HandleListOrders)
			r.Get("/orders/{orderID}", h.HandleGetOrder)
			r.Post("/orders/{orderID}/payments", h.HandleRetryPayment)

			r.Get("/payments/{paymentID}", h.HandleGetPayment)
			r.Post("/payments/{paymentID}/verify", h.HandleVerifyPayment)

			r.Post("/prescriptions", h.HandleUploadPrescription)
			r.Get("/prescriptions/{prescriptionID}/image", h.HandlePrescriptionImage)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Patch("/orders/{orderID}/status", h.HandleAdminStatusUpdate)
				r.Patch("/prescriptions/{prescriptionID}", h.HandleReviewPrescription)
				r.Get("/callbacks", h.HandleListCallbacks)
			})
		})
	})

	// the long-poll holds the request for the whole poll window, so it sits outside Timeout
	r.With(h.auth.Authenticate).Get("/payments/{paymentID}/status", h.HandlePaymentStatus)

	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports 503 while any dependency probe fails.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.probes))
	ready := true
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.logger.Warn("readiness probe failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		writeRaw(w, http.StatusServiceUnavailable, status)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// actor is only called behind Authenticate, so a missing actor is a wiring bug.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		h.logger.Error("route reached without an authenticated actor", "path", r.URL.Path)
		respondWithJSON(w, http.StatusUnauthorized, &APIError{Code: codeUnauthorized, Message: "sign in to continue"})
	}
	return a, ok
}
