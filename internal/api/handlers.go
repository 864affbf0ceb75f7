package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"umod-repack/internal/database"
	"umod-repack/internal/models"
	"umod-repack/internal/processor"
	"umod-repack/internal/repack"
	"umod-repack/internal/websocket"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/cors"
)

const (
	maxUploadMemory    = 32 << 20
	defaultPollTimeout = 10 * time.Second
	maxPollTimeout     = 30 * time.Second
	retryAfterSeconds  = 30
	historyLimit       = 100
)

// Server holds all HTTP handlers and dependencies
type Server struct {
	processor     *processor.Processor
	history       *database.DB
	wsManager     *websocket.Manager
	upgrader      ws.Upgrader
	uploadPath    string
	allowedOrigin string
}

// NewServer creates a new API server. Uploaded files are stored in
// uploadPath until processed.
func NewServer(
	proc *processor.Processor,
	history *database.DB,
	wsManager *websocket.Manager,
	uploadPath string,
	allowedOrigin string,
) *Server {
	s := &Server{
		processor:     proc,
		history:       history,
		wsManager:     wsManager,
		uploadPath:    uploadPath,
		allowedOrigin: allowedOrigin,
	}
	s.upgrader = ws.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.allowedOrigin == "*" || origin == "" || origin == s.allowedOrigin
}

// Upload accepts one or more files as a new submission
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid multipart upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		http.Error(w, "At least one file is required", http.StatusBadRequest)
		return
	}

	job := s.processor.CreateJob()
	paths := make([]string, 0, len(headers))
	for i, h := range headers {
		p, err := s.saveUpload(job, i, h)
		if err != nil {
			log.Printf("[ERROR] JobID=%s Failed to store upload: %v", job.ID(), err)
			removeAll(paths)
			http.Error(w, "Failed to store upload", http.StatusInternalServerError)
			return
		}
		paths = append(paths, p)
	}

	name := r.FormValue("name")
	if name == "" {
		name = headers[0].Filename
	}
	job.Log(models.NewEntry(models.LogInfo, fmt.Sprintf("Received %d file(s) for %s", len(paths), name)))

	if !s.processor.TrackJob(job) {
		removeAll(paths)
		http.Error(w, "Failed to register job", http.StatusInternalServerError)
		return
	}

	sub := &models.Submission{
		Job:        job,
		SubmitTime: time.Now().UnixMilli(),
		Name:       name,
		Files:      paths,
	}
	if !s.processor.Add(sub) {
		s.processor.ForgetJob(job.ID())
		removeAll(paths)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		http.Error(w, "Too many pending submissions, try again later", http.StatusServiceUnavailable)
		return
	}

	log.Printf("[SUBMIT] JobID=%s Name=%q Files=%d", job.ID(), name, len(paths))
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// saveUpload stores one uploaded part as <jobId>-<index>-<name>
func (s *Server) saveUpload(job *models.Job, index int, h *multipart.FileHeader) (string, error) {
	in, err := h.Open()
	if err != nil {
		return "", errors.Wrap(err, "error opening upload")
	}
	defer in.Close()

	name := fmt.Sprintf("%s-%d-%s", job.ID(), index, repack.SafeFileName(filepath.Base(h.Filename)))
	dest := filepath.Join(s.uploadPath, name)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", errors.Wrap(err, "error creating upload file")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return "", errors.Wrap(err, "error writing upload file")
	}
	return dest, errors.Wrap(out.Close(), "error closing upload file")
}

func removeAll(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Printf("[ERROR] Failed to delete upload %s: %v", p, err)
		}
	}
}

// GetJob returns a job's complete current state
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.processor.Job(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// PollJob returns the log entries appended since the previous poll
func (s *Server) PollJob(w http.ResponseWriter, r *http.Request) {
	timeout := defaultPollTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "timeout must be a number of seconds", http.StatusBadRequest)
			return
		}
		timeout = time.Duration(seconds) * time.Second
		if timeout < time.Second {
			timeout = time.Second
		}
		if timeout > maxPollTimeout {
			timeout = maxPollTimeout
		}
	}

	snapshot, ok := s.processor.PollLog(mux.Vars(r)["id"], timeout)
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// ListJobs returns all tracked jobs
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.processor.Jobs())
}

// ListPending returns submissions waiting to be processed
func (s *Server) ListPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.processor.Pending())
}

// Download serves a repacked file
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	job, ok := s.processor.Job(vars["id"])
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	path, ok := job.Artifact(vars["file"])
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", vars["file"]))
	http.ServeFile(w, r, path)
}

// GetMetrics returns submission history counters
func (s *Server) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.history.GetMetrics()
	if err != nil {
		log.Printf("[ERROR] Failed to get metrics: %v", err)
		http.Error(w, "Failed to fetch metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// ListHistory returns recently processed submissions
func (s *Server) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.ListSubmissions(r.URL.Query().Get("state"), historyLimit)
	if err != nil {
		log.Printf("[ERROR] Failed to query history: %v", err)
		http.Error(w, "Failed to fetch history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetHistory returns the full persisted record of a processed submission
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	record, err := s.history.GetSubmission(mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Submission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[ERROR] Failed to get submission: %v", err)
		http.Error(w, "Failed to fetch submission", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleWebSocket registers an overview WebSocket client
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] WebSocket upgrade failed: %v", err)
		return
	}
	s.wsManager.AddClient(conn)
}

// HandleJobWebSocket streams one job's log over a WebSocket
func (s *Server) HandleJobWebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.processor.Job(id); !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] WebSocket upgrade failed: %v", err)
		return
	}
	s.wsManager.StreamJob(conn, id)
}

func (s *Server) checkHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct{}{})
}

// SetupRoutes registers all HTTP routes on router
func (s *Server) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/upload", s.Upload).Methods(http.MethodPost)
	router.HandleFunc("/jobs", s.ListJobs).Methods(http.MethodGet)
	router.HandleFunc("/pending", s.ListPending).Methods(http.MethodGet)
	router.HandleFunc("/job/{id}", s.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/job/{id}/poll", s.PollJob).Methods(http.MethodGet)
	router.HandleFunc("/download/{id}/{file}", s.Download).Methods(http.MethodGet)
	router.HandleFunc("/api/metrics", s.GetMetrics).Methods(http.MethodGet)
	router.HandleFunc("/api/history", s.ListHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/history/{id}", s.GetHistory).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.HandleWebSocket)
	router.HandleFunc("/ws/{id}", s.HandleJobWebSocket)
	router.HandleFunc("/healthz", s.checkHealth).Methods(http.MethodGet)
}

// Handler returns the routed handler wrapped with CORS support
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.StrictSlash(true)
	s.SetupRoutes(router)
	return cors.New(cors.Options{
		AllowedOrigins: []string{s.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(router)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] Failed to write response: %v", err)
	}
}
