// Package convert implements the asynchronous conversion subsystem: the job
// registry, the engine adapter with degraded-mode retry, the bounded
// scheduler, and the result materializer.
package convert

import (
	"sync"
	"time"

	"github.com/ducklinghq/duckling/internal/settings"
)

// Status is a job lifecycle state. Transitions are monotone:
// pending -> processing -> completed or failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ImageArtifact is one extracted figure written to disk.
type ImageArtifact struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Caption  string `json:"caption"`
	Label    string `json:"label,omitempty"`
}

// TableArtifact is one extracted table with its cell grid and disk paths.
type TableArtifact struct {
	ID        int        `json:"id"`
	Label     string     `json:"label,omitempty"`
	Caption   string     `json:"caption"`
	Rows      [][]string `json:"rows"`
	CSVPath   string     `json:"csv_path,omitempty"`
	ImagePath string     `json:"image_path,omitempty"`
}

// Chunk is one retrieval chunk of the converted document.
type Chunk struct {
	ID   int       `json:"id"`
	Text string    `json:"text"`
	Meta ChunkMeta `json:"meta"`
}

// ChunkMeta carries the chunk's document context.
type ChunkMeta struct {
	Headings []string `json:"headings,omitempty"`
	Page     int      `json:"page,omitempty"`
}

// ResultSummary is the compact completion payload surfaced to pollers.
type ResultSummary struct {
	MarkdownPreview  string   `json:"markdown_preview"`
	FormatsAvailable []string `json:"formats_available"`
	PageCount        int      `json:"page_count"`
	ImagesCount      int      `json:"images_count"`
	TablesCount      int      `json:"tables_count"`
	ChunksCount      int      `json:"chunks_count"`
	Warnings         []string `json:"warnings"`
}

// Job is one conversion request and its full lifecycle state. The identity
// fields are immutable after creation. Mutable state is written only by the
// job's worker goroutine and read by pollers through View.
type Job struct {
	ID               string
	InputPath        string
	OriginalFilename string
	Settings         *settings.Snapshot
	CreatedAt        time.Time

	mu          sync.Mutex
	status      Status
	progress    int
	message     string
	confidence  *float64
	result      *ResultSummary
	err         string
	outputPaths map[string]string
	images      []ImageArtifact
	tables      []TableArtifact
	chunks      []Chunk
	pageCount   int
	completedAt *time.Time
}

// NewJob creates a pending job.
func NewJob(id, inputPath, originalFilename string, snap *settings.Snapshot) *Job {
	return &Job{
		ID:               id,
		InputPath:        inputPath,
		OriginalFilename: originalFilename,
		Settings:         snap,
		CreatedAt:        time.Now().UTC(),
		status:           StatusPending,
		message:          "Queued for processing",
		outputPaths:      map[string]string{},
	}
}

// View is a consistent copy of the job's mutable state.
type View struct {
	ID               string
	OriginalFilename string
	Status           Status
	Progress         int
	Message          string
	Confidence       *float64
	Result           *ResultSummary
	Error            string
	OutputPaths      map[string]string
	Images           []ImageArtifact
	Tables           []TableArtifact
	Chunks           []Chunk
	PageCount        int
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// View snapshots the job under its lock.
func (j *Job) View() View {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths := make(map[string]string, len(j.outputPaths))
	for k, v := range j.outputPaths {
		paths[k] = v
	}

	return View{
		ID:               j.ID,
		OriginalFilename: j.OriginalFilename,
		Status:           j.status,
		Progress:         j.progress,
		Message:          j.message,
		Confidence:       j.confidence,
		Result:           j.result,
		Error:            j.err,
		OutputPaths:      paths,
		Images:           j.images,
		Tables:           j.tables,
		Chunks:           j.chunks,
		PageCount:        j.pageCount,
		CreatedAt:        j.CreatedAt,
		CompletedAt:      j.completedAt,
	}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// OutputPath returns the on-disk path for one export format, if present.
func (j *Job) OutputPath(format string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	p, ok := j.outputPaths[format]
	return p, ok
}

func (j *Job) setProcessing() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusProcessing
}

func (j *Job) setProgress(progress int, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = progress
	if message != "" {
		j.message = message
	}
}

func (j *Job) setMessage(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.message = message
}

func (j *Job) setConfidence(c *float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.confidence = c
}

func (j *Job) setPageCount(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pageCount = n
}

func (j *Job) setImages(images []ImageArtifact) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.images = images
}

func (j *Job) setTables(tables []TableArtifact) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tables = tables
}

func (j *Job) setChunks(chunks []Chunk) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.chunks = chunks
}

func (j *Job) addOutputPath(format, path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outputPaths[format] = path
}

func (j *Job) complete(message string, result *ResultSummary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusCompleted
	j.progress = 100
	j.message = message
	j.result = result
}

func (j *Job) fail(errMsg, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusFailed
	j.err = errMsg
	j.message = message
}

func (j *Job) markCompletedAt() {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	j.completedAt = &now
}
