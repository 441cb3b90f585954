package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ppemonitor/internal/config"
	"ppemonitor/internal/logger"
	"ppemonitor/internal/metrics"
	"ppemonitor/internal/models"
	"ppemonitor/internal/repository/sqlite"
	"ppemonitor/internal/routes"
	"ppemonitor/internal/services/aggregator"
	"ppemonitor/internal/services/capture"
	"ppemonitor/internal/services/normalizer"
	"ppemonitor/internal/services/ppeapi"
	"ppemonitor/internal/services/session"
	"ppemonitor/internal/services/storage"
	"ppemonitor/internal/services/transport"
	"ppemonitor/internal/services/websocket"
)

type App struct {
	config        *config.Config
	logger        *logger.Logger
	metrics       *metrics.Metrics
	db            *sqlite.DB
	history       *sqlite.HistoryRepository
	transport     *transport.Client
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	api           *ppeapi.Client
	session       *session.Session

	bufferStop chan struct{}
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)
	m := metrics.New()

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	history := sqlite.NewHistoryRepository(db, cfg.HistoryLimit)

	var api *ppeapi.Client
	if cfg.PPEAPIURL != "" {
		api = ppeapi.NewClient(cfg.PPEAPIURL, log)
	}

	required := requiredClasses(cfg, api, log)
	norm := normalizer.New(required)
	agg := aggregator.New(norm, required)

	tr := transport.New(transport.Options{
		URL:             cfg.BackendURL,
		MaxFrameBytes:   cfg.MaxFrameBytes(),
		PingInterval:    time.Duration(cfg.PingIntervalSec) * time.Second,
		StabilityWindow: time.Duration(cfg.StabilityWindowSec) * time.Second,
	}, log, m)

	hub := websocket.NewHubService(log)
	buffer := storage.NewBufferService(cfg.EvidenceDirectory, cfg.EvidenceBufferLimit, log)

	// The monitor stays useful without a camera: the control surface and
	// history endpoints work, only capture is disabled.
	var source session.FrameSource
	var annotator session.Annotator
	cam, err := capture.NewCameraSource(cfg.CameraDevice, log)
	if err != nil {
		log.Warning("Camera device %d unavailable, capture disabled: %v", cfg.CameraDevice, err)
	} else {
		source = cam
		annotator = capture.NewAnnotator(log)
	}

	sess := session.New(session.Options{
		Threshold:       cfg.ConfidenceThreshold,
		DefaultInterval: cfg.DefaultInterval(),
		AlertRepeat:     time.Duration(cfg.AlertRepeatSec) * time.Second,
		ConfirmFrames:   cfg.ViolationConfirmFrames,
	}, tr, source, agg, history, hub, annotator, buffer, log, m)

	return &App{
		config:        cfg,
		logger:        log,
		metrics:       m,
		db:            db,
		history:       history,
		transport:     tr,
		bufferService: buffer,
		hubService:    hub,
		api:           api,
		session:       sess,
		bufferStop:    make(chan struct{}),
	}, nil
}

func (a *App) Run() error {
	// Start background services
	go a.hubService.Run()
	go a.bufferService.Run(a.config.EvidenceFlushInterval, a.bufferStop)

	router := routes.SetupRoutes(a.session, a.hubService, a.history, a.api, a.metrics, a.config, a.logger)

	fmt.Printf("PPE Monitor\n")
	fmt.Printf("URL:      http://localhost:%d\n", a.config.Port)
	fmt.Printf("Backend:  %s\n", a.config.BackendURL)
	fmt.Printf("History:  %s (limit %d)\n", a.config.DBPath, a.config.HistoryLimit)
	fmt.Printf("Evidence: %s\n", a.config.EvidenceDirectory)

	return http.ListenAndServe(fmt.Sprintf(":%d", a.config.Port), router)
}

// Shutdown stops the running session and flushes pending evidence.
func (a *App) Shutdown() {
	if a.session != nil {
		_ = a.session.Stop()
	}
	close(a.bufferStop)
	if a.db != nil {
		a.db.Close()
	}
}

// requiredClasses resolves the enforced equipment set: the REQUIRED_CLASSES
// environment list wins, then the aggregation service's /config endpoint,
// then the full canonical set.
func requiredClasses(cfg *config.Config, api *ppeapi.Client, log *logger.Logger) []models.CanonicalClass {
	if len(cfg.RequiredClasses) > 0 {
		out := make([]models.CanonicalClass, 0, len(cfg.RequiredClasses))
		for _, name := range cfg.RequiredClasses {
			c, ok := models.ParseClass(name)
			if !ok {
				log.Warning("Ignoring unknown required class %q", name)
				continue
			}
			out = append(out, c)
		}
		if len(out) > 0 {
			return out
		}
	}

	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if remote, err := api.Config(ctx); err != nil {
			log.Warning("Could not fetch class config from aggregation service: %v", err)
		} else {
			out := make([]models.CanonicalClass, 0, len(remote.Classes))
			for _, name := range remote.Classes {
				if c, ok := models.ParseClass(name); ok {
					out = append(out, c)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}

	return models.AllClasses
}
