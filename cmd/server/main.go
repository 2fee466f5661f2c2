package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/studyflow/studyflow/core"
	billingmodule "github.com/studyflow/studyflow/modules/billing"
	"github.com/studyflow/studyflow/pkg/activity"
	"github.com/studyflow/studyflow/pkg/billing"
	"github.com/studyflow/studyflow/pkg/config"
	"github.com/studyflow/studyflow/pkg/httpserver"
	"github.com/studyflow/studyflow/pkg/logger"
	"github.com/studyflow/studyflow/pkg/mongo"
)

type appConfig struct {
	Logger  logger.Config
	HTTP    httpserver.Config
	Mongo   mongo.Config
	Stripe  billing.StripeConfig
	Billing billing.ServiceConfig

	// CatalogPath points at a YAML plan catalog. Empty means the compiled-in
	// sandbox catalog.
	CatalogPath string `env:"BILLING_CATALOG_PATH"`
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.MustNew(cfg.Logger, os.Stderr)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	db, err := mongo.ConnectDatabase(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Client().Disconnect(shutdownCtx)
	}()

	if err := billing.EnsureIndexes(ctx, db); err != nil {
		return err
	}

	catalog := billing.DefaultCatalog()
	if cfg.CatalogPath != "" {
		catalog, err = billing.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		log.Info("plan catalog loaded", slog.String("path", cfg.CatalogPath))
	}

	stripeClient, err := billing.NewStripeClient(cfg.Stripe, log)
	if err != nil {
		return err
	}

	subs := billing.NewMongoSubscriptionStore(db)
	payments := billing.NewMongoPaymentStore(db)
	users := billing.NewMongoUserStore(db)
	auditLog := activity.NewLogger(activity.NewMongoStore(db), log)

	svc := billing.NewService(subs, payments, users, stripeClient, catalog, auditLog, log, cfg.Billing)
	dispatcher := billing.NewDispatcher(svc, log)

	enforcer := billing.NewEnforcer(users, catalog)
	enforcer.RegisterCounter(billing.ResourceStudyPlans, billing.CollectionCounter(db, "study_plans"))
	enforcer.RegisterCounter(billing.ResourceTasks, billing.CollectionCounter(db, "tasks"))
	enforcer.RegisterCounter(billing.ResourceFlashcardDecks, billing.CollectionCounter(db, "flashcard_decks"))
	enforcer.RegisterCounter(billing.ResourceTeams, billing.CollectionCounter(db, "teams"))
	enforcer.RegisterCounter(billing.ResourceAISuggestions, billing.CollectionCounter(db, "ai_suggestions"))

	billingOpts := billingmodule.RouterOptions{
		Service:       svc,
		Dispatcher:    dispatcher,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		CurrentUser:   currentUser,
		Logger:        log,
		Enforcer:      enforcer,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(mongo.Healthcheck(db.Client())))
	r.Mount("/billing", billingmodule.Router(billingOpts))
	r.With(requireAdmin(users, log)).Mount("/admin/billing", billingmodule.AdminRouter(billingOpts))

	return httpserver.New(cfg.HTTP, log).Run(ctx, r)
}

// currentUser resolves the authenticated user from the X-User-ID header set
// by the authenticating reverse proxy in front of this service.
func currentUser(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return uuid.Nil, errors.New("missing user identity")
	}
	return uuid.Parse(raw)
}

// requireAdmin gates a subtree on the caller's is_admin flag.
func requireAdmin(users billing.UserStore, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := currentUser(r)
			if err != nil {
				core.JSONError(w, core.ErrUnauthorized)
				return
			}

			user, err := users.Get(r.Context(), userID)
			if err != nil {
				if !errors.Is(err, billing.ErrUserNotFound) {
					log.ErrorContext(r.Context(), "admin gate lookup failed", slog.Any("error", err))
					core.JSONError(w, core.ErrInternalServerError)
					return
				}
				core.JSONError(w, core.ErrUnauthorized)
				return
			}
			if !user.IsAdmin {
				core.JSONError(w, core.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			core.JSONError(w, core.ErrServiceUnavailable)
			return
		}
		core.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
