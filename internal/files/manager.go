// Package files manages the upload staging area and the per-job output
// layout on disk.
package files

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// allowedExtensions is the upload allow-list, keyed by lowercase extension
// without the dot.
var allowedExtensions = map[string]struct{}{
	"pdf": {}, "docx": {}, "pptx": {}, "xlsx": {}, "html": {}, "htm": {},
	"md": {}, "markdown": {}, "csv": {}, "png": {}, "jpg": {}, "jpeg": {},
	"tiff": {}, "tif": {}, "gif": {}, "webp": {}, "bmp": {},
	"wav": {}, "mp3": {}, "vtt": {}, "xml": {}, "json": {},
	"asciidoc": {}, "adoc": {},
}

// formatByExtension maps input file extensions to format identifiers.
var formatByExtension = map[string]string{
	".pdf": "pdf", ".docx": "docx", ".pptx": "pptx", ".xlsx": "xlsx",
	".html": "html", ".htm": "html", ".md": "md", ".markdown": "md",
	".csv": "csv", ".png": "image", ".jpg": "image", ".jpeg": "image",
	".tiff": "image", ".tif": "image", ".gif": "image", ".webp": "image",
	".bmp": "image", ".wav": "audio", ".mp3": "audio", ".vtt": "vtt",
	".xml": "xml", ".asciidoc": "asciidoc", ".adoc": "asciidoc",
	".json": "json",
}

// exportExtensions maps export format identifiers to file extensions.
var exportExtensions = map[string]string{
	"markdown":        ".md",
	"html":            ".html",
	"json":            ".json",
	"text":            ".txt",
	"doctags":         ".doctags",
	"document_tokens": ".tokens.json",
	"chunks":          ".chunks.json",
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Manager owns the upload and output directories.
type Manager struct {
	uploadDir string
	outputDir string
}

// NewManager creates the directories if needed and returns a manager.
func NewManager(uploadDir, outputDir string) (*Manager, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &Manager{uploadDir: uploadDir, outputDir: outputDir}, nil
}

// UploadDir returns the upload staging directory.
func (m *Manager) UploadDir() string { return m.uploadDir }

// OutputDir returns the output root directory.
func (m *Manager) OutputDir() string { return m.outputDir }

// AllowedFile reports whether the filename carries an accepted extension.
func AllowedFile(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return false
	}
	_, ok := allowedExtensions[ext]
	return ok
}

// DetectInputFormat returns the format identifier for a filename, or ""
// when the extension is unknown.
func DetectInputFormat(filename string) string {
	return formatByExtension[strings.ToLower(filepath.Ext(filename))]
}

// SecureFilename strips path components and unsafe characters.
func SecureFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "unnamed_file"
	}
	return name
}

// SaveUpload stages an uploaded stream under a collision-free name. The
// extension is lowercased so format detection downstream stays consistent.
// Returns the saved path, the sanitized original name, and the byte count.
func (m *Manager) SaveUpload(r io.Reader, originalFilename string) (string, string, int64, error) {
	safe := SecureFilename(originalFilename)
	ext := strings.ToLower(filepath.Ext(safe))
	stem := strings.TrimSuffix(safe, filepath.Ext(safe))
	unique := fmt.Sprintf("%s_%s%s", stem, uuid.NewString()[:8], ext)

	savePath := filepath.Join(m.uploadDir, unique)
	f, err := os.Create(savePath)
	if err != nil {
		return "", "", 0, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(savePath)
		return "", "", 0, fmt.Errorf("write upload file: %w", err)
	}
	return savePath, safe, n, nil
}

// SaveUploadBytes stages in-memory content, for URL downloads.
func (m *Manager) SaveUploadBytes(content []byte, filename string) (string, string, int64, error) {
	return m.SaveUpload(bytes.NewReader(content), filename)
}

// JobOutputDir returns the output directory for a job, creating it.
func (m *Manager) JobOutputDir(jobID string) (string, error) {
	dir := filepath.Join(m.outputDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// OutputPath returns the on-disk export path for a completed job, or ""
// when the file does not exist.
func (m *Manager) OutputPath(jobID, format, originalFilename string) string {
	ext, ok := exportExtensions[format]
	if !ok {
		ext = ".md"
	}
	stem := strings.TrimSuffix(originalFilename, filepath.Ext(originalFilename))
	path := filepath.Join(m.outputDir, jobID, stem+ext)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// DeleteUpload removes a staged upload. Paths outside the upload dir are
// refused.
func (m *Manager) DeleteUpload(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	root, err := filepath.Abs(m.uploadDir)
	if err != nil || !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return false
	}
	return os.Remove(abs) == nil
}

// DeleteOutputDir removes a job's output directory and everything in it.
func (m *Manager) DeleteOutputDir(jobID string) bool {
	if jobID == "" {
		return false
	}
	dir := filepath.Join(m.outputDir, jobID)
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	return os.RemoveAll(dir) == nil
}

// CleanupOldFiles deletes uploads and output directories older than maxAge.
// Returns the number of uploads and outputs removed.
func (m *Manager) CleanupOldFiles(maxAge time.Duration) (int, int) {
	cutoff := time.Now().Add(-maxAge)
	uploads := 0
	outputs := 0

	entries, _ := os.ReadDir(m.uploadDir)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(m.uploadDir, e.Name())) == nil {
			uploads++
		}
	}

	entries, _ = os.ReadDir(m.outputDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.RemoveAll(filepath.Join(m.outputDir, e.Name())) == nil {
			outputs++
		}
	}

	return uploads, outputs
}

// FileInfo describes one file on disk.
type FileInfo struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Extension string    `json:"extension"`
}

// GetFileInfo returns metadata for a path, or nil when it does not exist.
func GetFileInfo(path string) *FileInfo {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	return &FileInfo{
		Filename:  filepath.Base(path),
		Size:      info.Size(),
		Modified:  info.ModTime(),
		Extension: strings.ToLower(filepath.Ext(path)),
	}
}

// ListUploads returns metadata for every staged upload, newest first.
func (m *Manager) ListUploads() []FileInfo {
	entries, _ := os.ReadDir(m.uploadDir)
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if fi := GetFileInfo(filepath.Join(m.uploadDir, e.Name())); fi != nil {
			out = append(out, *fi)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Modified.After(out[j].Modified)
	})
	return out
}

// StorageStats summarizes disk usage for uploads and outputs.
type StorageStats struct {
	Uploads     StorageBucket `json:"uploads"`
	Outputs     StorageBucket `json:"outputs"`
	TotalSizeMB float64       `json:"total_size_mb"`
}

// StorageBucket is one side of the storage stats.
type StorageBucket struct {
	Count     int     `json:"count"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
}

// GetStorageStats walks both directories and totals file sizes.
func (m *Manager) GetStorageStats() StorageStats {
	var uploadSize int64
	uploadCount := 0
	entries, _ := os.ReadDir(m.uploadDir)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, err := e.Info(); err == nil {
			uploadSize += info.Size()
			uploadCount++
		}
	}

	var outputSize int64
	outputCount := 0
	dirs, _ := os.ReadDir(m.outputDir)
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		outputCount++
		filepath.WalkDir(filepath.Join(m.outputDir, d.Name()), func(path string, de os.DirEntry, err error) error {
			if err != nil || de.IsDir() {
				return nil
			}
			if info, ierr := de.Info(); ierr == nil {
				outputSize += info.Size()
			}
			return nil
		})
	}

	mb := func(b int64) float64 {
		return float64(int64(float64(b)/(1024*1024)*100+0.5)) / 100
	}
	return StorageStats{
		Uploads:     StorageBucket{Count: uploadCount, SizeBytes: uploadSize, SizeMB: mb(uploadSize)},
		Outputs:     StorageBucket{Count: outputCount, SizeBytes: outputSize, SizeMB: mb(outputSize)},
		TotalSizeMB: mb(uploadSize + outputSize),
	}
}
