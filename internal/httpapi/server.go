// Package httpapi serves a local inspection API over the running pipeline:
// the stage structure, stage artifacts as PNG, conversion requests and the
// full-resolution trigger.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/converter"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/metrics"
	"github.com/dshills/negstation/internal/pipeline"
)

// maxBodyBytes limits JSON request bodies.
const maxBodyBytes int64 = 1 << 20

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Stages() pipeline.Structure
	Artifact(id pipeline.StageID, tier pipeline.Tier) *artifact.Artifact
	RunFullResolution()
	Convert(path string) error
	Status() Status
	Ready() bool
}

// Status is the body of GET /status.
type Status struct {
	Stages     int                        `json:"stages"`
	Bus        event.Stats                `json:"bus"`
	Converters map[string]converter.Stats `json:"converters"`
}

// StageResponse describes one stage in GET /stages.
type StageResponse struct {
	ID      pipeline.StageID `json:"id"`
	Label   string           `json:"label"`
	Preview *ArtifactInfo    `json:"preview,omitempty"`
	Full    *ArtifactInfo    `json:"full,omitempty"`
}

// ArtifactInfo summarizes an artifact without its pixels.
type ArtifactInfo struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
}

// ConvertRequest is the body of POST /convert.
type ConvertRequest struct {
	Path string `json:"path"`
}

// Options configures NewMux.
type Options struct {
	// Metrics instruments requests and serves /metrics when set.
	Metrics *metrics.Metrics
	// Logger receives request logs.
	Logger logrus.FieldLogger
}

// NewMux builds the API router.
func NewMux(svc Service, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.Logger != nil {
		r.Use(logMiddleware(opts.Logger.WithField("component", "http")))
	}
	if opts.Metrics != nil {
		r.Use(metricsMiddleware(opts.Metrics))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/stages", func(w http.ResponseWriter, r *http.Request) {
		stages := svc.Stages()
		out := make([]StageResponse, 0, len(stages))
		for _, st := range stages {
			out = append(out, StageResponse{
				ID:      st.ID,
				Label:   st.Label,
				Preview: info(svc.Artifact(st.ID, pipeline.TierPreview)),
				Full:    info(svc.Artifact(st.ID, pipeline.TierFull)),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"stages": out})
	})

	r.Get("/stages/{id}/preview.png", artifactHandler(svc, pipeline.TierPreview))
	r.Get("/stages/{id}/full.png", artifactHandler(svc, pipeline.TierFull))

	r.Post("/run-full", func(w http.ResponseWriter, r *http.Request) {
		svc.RunFullResolution()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
	})

	r.Post("/convert", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req ConvertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			writeJSONError(w, http.StatusBadRequest, "path is required")
			return
		}
		if err := svc.Convert(req.Path); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "path": req.Path})
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return r
}

func artifactHandler(svc Service, tier pipeline.Tier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid stage id")
			return
		}
		id := pipeline.StageID(n)
		if !svc.Stages().Contains(id) {
			writeJSONError(w, http.StatusNotFound, "unknown stage "+id.String())
			return
		}
		a := svc.Artifact(id, tier)
		if a == nil {
			writeJSONError(w, http.StatusNotFound, "stage "+id.String()+" has no "+tier.String()+" artifact")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		// Headers are already sent; a failed write only truncates the image.
		_ = imaging.Encode(w, a.ToNRGBA(), imaging.PNG)
	}
}

func info(a *artifact.Artifact) *ArtifactInfo {
	if a == nil {
		return nil
	}
	return &ArtifactInfo{Width: a.Width(), Height: a.Height(), Channels: a.Channels()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
