package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ducklinghq/duckling/internal/convert"
	"github.com/ducklinghq/duckling/internal/files"
	"github.com/ducklinghq/duckling/internal/history"
	"github.com/ducklinghq/duckling/internal/observability"
	"github.com/ducklinghq/duckling/internal/settings"
)

var exportMimeTypes = map[string]string{
	"markdown":        "text/markdown",
	"html":            "text/html",
	"json":            "application/json",
	"doctags":         "text/plain",
	"text":            "text/plain",
	"document_tokens": "application/json",
	"chunks":          "application/json",
}

// ConvertHandler handles document upload and conversion requests.
type ConvertHandler struct {
	logger        *observability.Logger
	registry      *convert.Registry
	scheduler     *convert.Scheduler
	files         *files.Manager
	settings      *settings.Store
	history       *history.Store
	maxUploadSize int64
	client        *http.Client
}

// NewConvertHandler creates a new conversion handler.
func NewConvertHandler(logger *observability.Logger, registry *convert.Registry, scheduler *convert.Scheduler, fm *files.Manager, st *settings.Store, hs *history.Store, maxUploadSize int64) *ConvertHandler {
	return &ConvertHandler{
		logger:        logger,
		registry:      registry,
		scheduler:     scheduler,
		files:         fm,
		settings:      st,
		history:       hs,
		maxUploadSize: maxUploadSize,
		client:        &http.Client{Timeout: 60 * time.Second},
	}
}

type conversionStartedDTO struct {
	JobID       string `json:"job_id"`
	Filename    string `json:"filename"`
	InputFormat string `json:"input_format"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

type statusDTO struct {
	JobID            string   `json:"job_id"`
	Status           string   `json:"status"`
	Progress         int      `json:"progress"`
	Message          string   `json:"message"`
	Confidence       *float64 `json:"confidence,omitempty"`
	FormatsAvailable []string `json:"formats_available,omitempty"`
	ImagesCount      *int     `json:"images_count,omitempty"`
	TablesCount      *int     `json:"tables_count,omitempty"`
	ChunksCount      *int     `json:"chunks_count,omitempty"`
	Preview          string   `json:"preview,omitempty"`
	PageCount        *int     `json:"page_count,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// resolveSettings layers request overrides on top of the persisted user
// settings and returns both the snapshot used for conversion and its JSON
// form for the history record.
func (h *ConvertHandler) resolveSettings(overrides []byte) (*settings.Snapshot, string) {
	persisted := h.settings.Load()
	resolved := settings.ResolveMap(persisted, overrides)
	snap := settings.Resolve(persisted, overrides)
	data, err := json.Marshal(resolved)
	if err != nil {
		data = []byte("{}")
	}
	return snap, string(data)
}

// startJob registers the job, records it in history, and submits it to the
// scheduler with a completion callback that persists the terminal state.
func (h *ConvertHandler) startJob(ctx context.Context, id, savedPath, safeName, originalName string, snap *settings.Snapshot, settingsJSON string, fileSize int64) *convert.Job {
	job := h.registry.Create(savedPath, originalName, snap, id)

	entry := &history.Entry{
		ID:               job.ID,
		Filename:         safeName,
		OriginalFilename: originalName,
		InputFormat:      files.DetectInputFormat(originalName),
		Status:           "pending",
		CreatedAt:        time.Now().UTC(),
		Settings:         settingsJSON,
		FileSize:         &fileSize,
	}
	if err := h.history.CreateEntry(ctx, entry); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to create history entry")
	}

	h.scheduler.Submit(job, func(done *convert.Job) {
		view := done.View()
		status := "failed"
		if view.Status == convert.StatusCompleted {
			status = "completed"
		}
		mdPath, _ := done.OutputPath("markdown")
		if _, err := h.history.UpdateStatus(context.Background(), done.ID, status, view.Confidence, view.Error, mdPath); err != nil {
			h.logger.Error().Err(err).Str("job_id", done.ID).Msg("Failed to update history entry")
		}
	})

	return job
}

// Upload handles POST /api/convert.
func (h *ConvertHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided", "")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected", "")
		return
	}
	if !files.AllowedFile(header.Filename) {
		writeError(w, http.StatusBadRequest, "File type not allowed", "")
		return
	}

	snap, settingsJSON := h.resolveSettings([]byte(r.FormValue("settings")))

	h.logger.Info().
		Str("filename", header.Filename).
		Str("ocr_backend", snap.OCR.Backend).
		Msg("Starting conversion")

	savedPath, safeName, size, err := h.files.SaveUpload(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save upload", err.Error())
		return
	}

	job := h.startJob(r.Context(), "", savedPath, safeName, header.Filename, snap, settingsJSON, size)

	writeJSON(w, http.StatusAccepted, conversionStartedDTO{
		JobID:       job.ID,
		Filename:    header.Filename,
		InputFormat: files.DetectInputFormat(header.Filename),
		Status:      "processing",
		Message:     "Conversion started",
	})
}

// UploadBatch handles POST /api/convert/batch.
func (h *ConvertHandler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large", err.Error())
		return
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided", "")
		return
	}

	snap, settingsJSON := h.resolveSettings([]byte(r.FormValue("settings")))

	jobs := make([]conversionStartedDTO, 0, len(r.MultipartForm.File["files"]))
	started := 0
	for _, header := range r.MultipartForm.File["files"] {
		if header.Filename == "" {
			continue
		}
		if !files.AllowedFile(header.Filename) {
			jobs = append(jobs, conversionStartedDTO{
				Filename: header.Filename,
				Status:   "rejected",
				Error:    "File type not allowed",
			})
			continue
		}

		file, err := header.Open()
		if err != nil {
			jobs = append(jobs, conversionStartedDTO{
				Filename: header.Filename,
				Status:   "rejected",
				Error:    err.Error(),
			})
			continue
		}
		savedPath, safeName, size, err := h.files.SaveUpload(file, header.Filename)
		file.Close()
		if err != nil {
			jobs = append(jobs, conversionStartedDTO{
				Filename: header.Filename,
				Status:   "rejected",
				Error:    err.Error(),
			})
			continue
		}

		job := h.startJob(r.Context(), "", savedPath, safeName, header.Filename, snap.Clone(), settingsJSON, size)
		jobs = append(jobs, conversionStartedDTO{
			JobID:       job.ID,
			Filename:    header.Filename,
			InputFormat: files.DetectInputFormat(header.Filename),
			Status:      "processing",
		})
		started++
	}

	if started == 0 && len(jobs) == 0 {
		writeError(w, http.StatusBadRequest, "No files selected", "")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobs":    jobs,
		"total":   len(jobs),
		"message": fmt.Sprintf("Started %d conversions", started),
	})
}

type convertURLRequestDTO struct {
	URL      string          `json:"url"`
	Filename string          `json:"filename,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// ConvertURL handles POST /api/convert/url. The job id is allocated before
// the download so the staged file is namespaced to the job.
func (h *ConvertHandler) ConvertURL(w http.ResponseWriter, r *http.Request) {
	var req convertURLRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required", "")
		return
	}

	jobID := uuid.NewString()

	filename := req.Filename
	if filename == "" {
		if u, err := url.Parse(req.URL); err == nil {
			filename = path.Base(u.Path)
		}
	}
	if filename == "" || filename == "." || filename == "/" {
		filename = "document.pdf"
	}
	if !files.AllowedFile(filename) {
		writeError(w, http.StatusBadRequest, "File type not allowed", "")
		return
	}

	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, req.URL, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url", err.Error())
		return
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to fetch URL", err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadGateway, "Failed to fetch URL", fmt.Sprintf("remote returned status %d", resp.StatusCode))
		return
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, h.maxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to fetch URL", err.Error())
		return
	}
	if int64(len(content)) > h.maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large", "")
		return
	}

	snap, settingsJSON := h.resolveSettings(req.Settings)

	savedPath, safeName, size, err := h.files.SaveUploadBytes(content, filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save upload", err.Error())
		return
	}

	job := h.startJob(r.Context(), jobID, savedPath, safeName, filename, snap, settingsJSON, size)

	writeJSON(w, http.StatusAccepted, conversionStartedDTO{
		JobID:       job.ID,
		Filename:    filename,
		InputFormat: files.DetectInputFormat(filename),
		Status:      "processing",
		Message:     "Conversion started",
	})
}

// Status handles GET /api/convert/{jobID}/status. Finished jobs that have
// been evicted from the registry are answered from history.
func (h *ConvertHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		entry, err := h.history.GetEntry(r.Context(), jobID)
		if err == nil {
			progress := 0
			message := "Conversion failed"
			if entry.Status == "completed" {
				progress = 100
				message = "Conversion completed"
			}
			writeJSON(w, http.StatusOK, statusDTO{
				JobID:      jobID,
				Status:     entry.Status,
				Progress:   progress,
				Message:    message,
				Confidence: entry.Confidence,
				Error:      entry.ErrorMessage,
			})
			return
		}
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID), "")
		return
	}

	view := job.View()
	resp := statusDTO{
		JobID:    view.ID,
		Status:   string(view.Status),
		Progress: view.Progress,
		Message:  view.Message,
	}

	if view.Status == convert.StatusCompleted {
		resp.Confidence = view.Confidence
		resp.FormatsAvailable = formatKeys(view.OutputPaths)
		resp.ImagesCount = intPtr(len(view.Images))
		resp.TablesCount = intPtr(len(view.Tables))
		resp.ChunksCount = intPtr(len(view.Chunks))
		if view.Result != nil {
			resp.Preview = truncate(view.Result.MarkdownPreview, 1000)
			resp.PageCount = intPtr(view.Result.PageCount)
		}
	}
	if view.Status == convert.StatusFailed {
		resp.Error = view.Error
	}

	writeJSON(w, http.StatusOK, resp)
}

// Result handles GET /api/convert/{jobID}/result.
func (h *ConvertHandler) Result(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID), "")
		return
	}

	view := job.View()
	if view.Status != convert.StatusCompleted {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":  jobID,
			"status":  string(view.Status),
			"message": "Conversion not yet completed",
		})
		return
	}

	var completedAt *string
	if view.CompletedAt != nil {
		s := view.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &s
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":            view.ID,
		"status":            "completed",
		"confidence":        view.Confidence,
		"formats_available": formatKeys(view.OutputPaths),
		"result":            view.Result,
		"images_count":      len(view.Images),
		"tables_count":      len(view.Tables),
		"chunks_count":      len(view.Chunks),
		"completed_at":      completedAt,
	})
}

// Images handles GET /api/convert/{jobID}/images.
func (h *ConvertHandler) Images(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID), "")
		return
	}

	view := job.View()
	if view.Status != convert.StatusCompleted {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":  jobID,
			"status":  string(view.Status),
			"message": "Conversion not yet completed",
		})
		return
	}

	images := view.Images
	if images == nil {
		images = []convert.ImageArtifact{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"images": images,
		"count":  len(images),
	})
}

// DownloadImage handles GET /api/convert/{jobID}/images/{imageID}.
func (h *ConvertHandler) DownloadImage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID), "")
		return
	}
	if job.Status() != convert.StatusCompleted {
		writeError(w, http.StatusBadRequest, "Conversion not completed", "")
		return
	}

	imageID, err := strconv.Atoi(chi.URLParam(r, "imageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image id", "")
		return
	}

	for _, img := range job.View().Images {
		if img.ID == imageID {
			serveDownload(w, r, img.Path, "image/png", img.Filename)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("Image %d not found", imageID), "")
}

// Tables handles GET /api/convert/{jobID}/tables.
func (h *ConvertHandler) Tables(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID), "")
		return
	}

	view := job.View()
	if view.Status != convert.StatusCompleted {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":  jobID,
			"status":  string(view.Status),
			"message": "Conversion not yet completed",
		})
		return
	}

	tables := view.Tables
	if tables == nil {
		tables = []convert.TableArtifact{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"tables": tables,
		"count":  len(tables),
	})
}

// DownloadTableCSV handles GET /api/convert/{jobID}/tables/{tableID}/csv.
func (h *ConvertHandler) DownloadTableCSV(w http.ResponseWriter, r *http.Request) {
	h.serveTableFile(w, r, func(t convert.TableArtifact) (string, string, string) {
		return t.CSVPath, "text/csv", fmt.Sprintf("table_%d.csv", t.ID)
	})
}

// DownloadTableImage handles GET /api/convert/{jobID}/tables/{tableID}/image.
func (h *ConvertHandler) DownloadTableImage(w http.ResponseWriter, r *http.Request) {
	h.serveTableFile(w, r, func(t convert.TableArtifact) (string, string, string) {
		return t.ImagePath, "image/png", fmt.Sprintf("table_%d.png", t.ID)
	})
}

func (h *ConvertHandler) serveTableFile(w http.ResponseWriter, r *http.Request, pick func(convert.TableArtifact) (string, string, string)) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID), "")
		return
	}
	if job.Status() != convert.StatusCompleted {
		writeError(w, http.StatusBadRequest, "Conversion not completed", "")
		return
	}

	tableID, err := strconv.Atoi(chi.URLParam(r, "tableID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid table id", "")
		return
	}

	for _, t := range job.View().Tables {
		if t.ID == tableID {
			path, mime, name := pick(t)
			serveDownload(w, r, path, mime, name)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("Table %d not found", tableID), "")
}

// Chunks handles GET /api/convert/{jobID}/chunks.
func (h *ConvertHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID), "")
		return
	}

	view := job.View()
	if view.Status != convert.StatusCompleted {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":  jobID,
			"status":  string(view.Status),
			"message": "Conversion not yet completed",
		})
		return
	}

	chunks := view.Chunks
	if chunks == nil {
		chunks = []convert.Chunk{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"chunks": chunks,
		"count":  len(chunks),
	})
}

// Export handles GET /api/export/{jobID}/{format}.
func (h *ConvertHandler) Export(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	format := chi.URLParam(r, "format")

	if _, ok := exportMimeTypes[format]; !ok {
		writeError(w, http.StatusBadRequest, "Invalid format", fmt.Sprintf("valid formats: %s", validFormatList()))
		return
	}

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID), "")
		return
	}
	if job.Status() != convert.StatusCompleted {
		writeError(w, http.StatusBadRequest, "Conversion not completed", "")
		return
	}

	outputPath, ok := job.OutputPath(format)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Output format %q not available for this job", format), "")
		return
	}

	serveDownload(w, r, outputPath, exportMimeTypes[format], filepath.Base(outputPath))
}

// ExportContent handles GET /api/export/{jobID}/{format}/content.
func (h *ConvertHandler) ExportContent(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	format := chi.URLParam(r, "format")

	if _, ok := exportMimeTypes[format]; !ok {
		writeError(w, http.StatusBadRequest, "Invalid format", fmt.Sprintf("valid formats: %s", validFormatList()))
		return
	}

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "Content not available", "")
		return
	}

	outputPath, ok := job.OutputPath(format)
	if !ok {
		writeError(w, http.StatusNotFound, "Content not available", "")
		return
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "Content not available", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  jobID,
		"format":  format,
		"content": string(content),
	})
}

// Delete handles DELETE /api/convert/{jobID}. A running job is abandoned but
// keeps executing; its files and history record are removed.
func (h *ConvertHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if _, ok := h.registry.Get(jobID); ok {
		h.registry.Remove(jobID)
	}
	if err := h.history.DeleteEntry(r.Context(), jobID); err != nil && err != history.ErrNotFound {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to delete history entry")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Job %s deleted", jobID),
		"job_id":  jobID,
	})
}

func serveDownload(w http.ResponseWriter, r *http.Request, path, mimeType, downloadName string) {
	if path == "" {
		writeError(w, http.StatusNotFound, "File not found", "")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "File not found", "")
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	http.ServeFile(w, r, path)
}

func validFormatList() string {
	return "markdown, html, json, doctags, text, document_tokens, chunks"
}

func formatKeys(paths map[string]string) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	return keys
}

func intPtr(n int) *int { return &n }

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
