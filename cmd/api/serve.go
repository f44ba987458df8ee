package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nutricoach/scheduling-api/internal/config"
	"github.com/nutricoach/scheduling-api/internal/handler"
	schedulinghandler "github.com/nutricoach/scheduling-api/internal/handler/scheduling"
	"github.com/nutricoach/scheduling-api/internal/middleware"
	"github.com/nutricoach/scheduling-api/internal/repository"
	"github.com/nutricoach/scheduling-api/internal/repository/memory"
	"github.com/nutricoach/scheduling-api/internal/repository/postgres"
	"github.com/nutricoach/scheduling-api/internal/router"
	"github.com/nutricoach/scheduling-api/internal/service/appointment"
	"github.com/nutricoach/scheduling-api/internal/service/availability"
	"github.com/nutricoach/scheduling-api/internal/service/event"
	"github.com/nutricoach/scheduling-api/internal/service/relationship"
	"github.com/nutricoach/scheduling-api/internal/service/scheduling"
	"github.com/nutricoach/scheduling-api/pkg/auth"
	"github.com/nutricoach/scheduling-api/pkg/logger"
	"github.com/nutricoach/scheduling-api/pkg/metrics"
)

// stores is one storage backend behind the repository interfaces.
type stores struct {
	tx            repository.Transactor
	availability  repository.AvailabilityRepository
	appointments  repository.AppointmentRepository
	relationships repository.RelationshipRepository
	users         repository.UserRepository
	outbox        repository.OutboxRepository
	close         func() error
}

func openStores(ctx context.Context, cfg *config.Config, links []string) (*stores, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		store := memory.NewStore()
		for _, link := range links {
			patientID, nutritionistID, err := parseLink(link)
			if err != nil {
				return nil, err
			}
			store.Link(patientID, nutritionistID)
		}
		return &stores{
			tx:            store.Transactor(),
			availability:  store.Availability(),
			appointments:  store.Appointments(),
			relationships: store.Relationships(),
			users:         store.Users(),
			outbox:        store.Outbox(),
			close:         func() error { return nil },
		}, nil
	default:
		if len(links) > 0 {
			return nil, errors.New("--link is only supported by the memory driver")
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		base := postgres.NewBaseRepository(db)
		return &stores{
			tx:            postgres.NewTransactor(base),
			availability:  postgres.NewAvailabilityRepository(base),
			appointments:  postgres.NewAppointmentRepository(base),
			relationships: postgres.NewRelationshipRepository(base),
			users:         postgres.NewUserRepository(base),
			outbox:        postgres.NewOutboxRepository(base),
			close:         db.Close,
		}, nil
	}
}

// parseLink reads "patientID:nutritionistID".
func parseLink(s string) (uuid.UUID, uuid.UUID, error) {
	patient, nutritionist, ok := strings.Cut(s, ":")
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid link %q, want patient_id:nutritionist_id", s)
	}
	patientID, err := uuid.Parse(patient)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid patient id in link %q: %w", s, err)
	}
	nutritionistID, err := uuid.Parse(nutritionist)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid nutritionist id in link %q: %w", s, err)
	}
	return patientID, nutritionistID, nil
}

func newServeCommand() *cobra.Command {
	var links []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log, links)
		},
	}
	cmd.Flags().StringArrayVar(&links, "link", nil, "patient_id:nutritionist_id relationship to seed (memory driver only)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger, links []string) error {
	location, err := cfg.Scheduling.LoadLocation()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, links)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg, cfg.Metrics.Namespace, "")

	events := event.NewService(st.outbox)
	availabilitySvc := availability.NewService(st.availability, st.tx, events,
		cfg.Scheduling.AvailabilityCacheTTL, log.With("availability"), m)
	appointmentSvc := appointment.NewService(
		st.appointments,
		st.tx,
		relationship.NewGate(st.relationships, m),
		availabilitySvc,
		events,
		appointment.Config{EnforceAvailability: cfg.Scheduling.EnforceAvailability, Location: location},
		log.With("appointment"),
		m,
	)
	schedulingSvc := scheduling.NewService(availabilitySvc, appointmentSvc, st.users, scheduling.Config{
		Granularity: cfg.Scheduling.SlotGranularityMinutes,
		Location:    location,
	}, log.With("scheduling"), m)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.CORS.AllowedOrigins

	r := router.NewRouter(
		middleware.NewAuthMiddleware(auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)),
		schedulinghandler.NewHandler(schedulingSvc),
		handler.NewHandler(st.tx, reg),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        cfg.RateLimit.RequestsPerSecond,
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   cfg.Server.RequestTimeout,
			MaxBodyBytes:     cfg.Server.MaxBodyBytes,
			CORSConfig:       cors,
			MetricsPrefix:    cfg.Metrics.Namespace + "_http",
			Registerer:       reg,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Server.Port, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Server exited")
	return nil
}
