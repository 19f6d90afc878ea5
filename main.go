package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/garbedge/waste-classifier/categories"
	"github.com/garbedge/waste-classifier/config"
	"github.com/garbedge/waste-classifier/detections"
	"github.com/garbedge/waste-classifier/models"
	"github.com/garbedge/waste-classifier/results"
	"github.com/garbedge/waste-classifier/stabilizer"
)

var (
	debugMode bool
)

func logTimings(t *models.ProcessingTimings) {
	if debugMode {
		log.Printf("[DEBUG] RequestID: %s - Processing times:\n"+
			"\tImage Decode: %v\n"+
			"\tResize:      %v\n"+
			"\tPreprocess:  %v\n"+
			"\tInference:   %v\n"+
			"\tPostprocess: %v\n"+
			"\tNMS:         %v\n"+
			"\tClassify:    %v\n"+
			"\tStabilize:   %v\n"+
			"\tFormat:      %v\n"+
			"\tTotal:       %v",
			t.RequestID,
			t.ImageDecode,
			t.Resize,
			t.Preprocess,
			t.Inference,
			t.Postprocess,
			t.NMS,
			t.Classify,
			t.Stabilize,
			t.Format,
			t.Total)
	}
}

type AppState struct {
	Config     config.Config
	Classifier *categories.Classifier
	Formatter  *results.Formatter
	Arena      *stabilizer.Arena
	// Detector and Pool are nil when no model is configured; image
	// endpoints then answer 503.
	Detector detections.Detector
	Pool     *ModelSessionPool
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func newAppState(cfg config.Config, registry *categories.Registry, clk clock.Clock) *AppState {
	return &AppState{
		Config:     cfg,
		Classifier: categories.NewClassifier(registry),
		Formatter:  results.NewFormatter(registry),
		Arena:      stabilizer.NewArena(clk, cfg.PersistenceWindow, cfg.IdleTimeout),
	}
}

func loadRegistry(path string) (*categories.Registry, error) {
	if path == "" {
		return categories.Default(), nil
	}
	return categories.LoadRegistry(path)
}

// modelLabels is the detector vocabulary in model class order. Without a
// names file the registry order is used, which matches only models trained
// on that exact label list.
func modelLabels(path string, registry *categories.Registry) ([]string, error) {
	if path != "" {
		return detections.LoadLabels(path)
	}
	labels := registry.Labels()
	log.Printf("WARNING: LABELS_PATH not set; assuming the model's %d classes follow registry label order", len(labels))
	return labels, nil
}

// setupModel initializes ONNX Runtime and the session pool. The returned
// cleanup must run before the process exits.
func setupModel(cfg config.Config, registry *categories.Registry) (*ModelSessionPool, func(), error) {
	modelPath, err := checkModel(cfg.ModelPath)
	if err != nil {
		return nil, nil, err
	}
	libPath, err := resolveLibrary(cfg.OnnxLibPath, modelPath)
	if err != nil {
		return nil, nil, err
	}

	labels, err := modelLabels(cfg.LabelsPath, registry)
	if err != nil {
		return nil, nil, err
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, nil, err
	}

	modelCfg := detections.ModelConfig{
		Path:         modelPath,
		InputSize:    cfg.InputSize,
		Labels:       labels,
		IouThreshold: float32(cfg.IouThreshold),
	}
	pool, err := NewModelSessionPool(cfg.PoolSize, func() (*detections.ModelSession, error) {
		return detections.NewModelSession(modelCfg)
	})
	if err != nil {
		ort.DestroyEnvironment()
		return nil, nil, err
	}

	log.Printf("Loaded model %s (%d labels, input %d, library %s)", modelPath, len(labels), cfg.InputSize, libPath)
	return pool, func() {
		pool.Destroy()
		ort.DestroyEnvironment()
	}, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode = cfg.Debug

	registry, err := loadRegistry(cfg.RegistryPath)
	if err != nil {
		log.Fatalf("Failed to load category registry: %v", err)
	}

	state := newAppState(cfg, registry, clock.New())

	if cfg.ModelEnabled() {
		pool, cleanup, err := setupModel(cfg, registry)
		if err != nil {
			log.Fatalf("Failed to set up model: %v", err)
		}
		defer cleanup()
		state.Pool = pool
		state.Detector = detections.NewPooledDetector(pool)
	} else {
		log.Printf("MODEL_PATH not set; image endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go state.Arena.Run(ctx, stabilizer.ReapPeriod)

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(state.routes())

	srv := &http.Server{
		Handler:      handler,
		Addr:         cfg.Addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	log.Printf("Starting server on %s (%d CPUs, %d categories)", srv.Addr, runtime.NumCPU(), len(registry.Names()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func (s *AppState) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/classify", s.handleClassify).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", s.handleEndSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/frames", s.handleFrame).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/detections", s.handleDetections).Methods(http.MethodPost)
	r.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)
	s.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}
