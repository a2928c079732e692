package convert

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ducklinghq/duckling/internal/engine"
	"github.com/ducklinghq/duckling/internal/files"
	"github.com/ducklinghq/duckling/internal/observability"
)

// markdownPreviewLimit bounds the preview surfaced in the result summary.
const markdownPreviewLimit = 5000

// Materializer turns an engine result into on-disk artifacts and the job's
// completion payload. The markdown export is required; every other format
// is best-effort and a failure only logs a warning.
type Materializer struct {
	files   *files.Manager
	chunker *Chunker
	logger  *observability.Logger
}

// NewMaterializer wires the materializer to the output layout and chunker.
func NewMaterializer(fm *files.Manager, chunker *Chunker, logger *observability.Logger) *Materializer {
	return &Materializer{files: fm, chunker: chunker, logger: logger}
}

// Materialize writes all artifacts and exports for a job and fills its
// result fields. An error means the conversion must be treated as failed.
func (m *Materializer) Materialize(job *Job, res *engine.Result) error {
	job.setConfidence(calculateConfidence(res))
	job.setPageCount(res.Document.PageCount)

	outputBase, err := m.files.JobOutputDir(job.ID)
	if err != nil {
		return err
	}

	doc := &res.Document
	stem := strings.TrimSuffix(job.OriginalFilename, filepath.Ext(job.OriginalFilename))

	job.setProgress(60, "Extracting images and tables...")

	if job.Settings.Images.Extract {
		job.setImages(m.extractImages(doc, outputBase))
	}
	if job.Settings.Tables.Enabled {
		job.setTables(m.extractTables(doc, outputBase))
	}

	job.setProgress(70, "Generating output formats...")

	mdPath := filepath.Join(outputBase, stem+".md")
	if err := os.WriteFile(mdPath, []byte(doc.Markdown), 0o644); err != nil {
		return fmt.Errorf("write markdown export: %w", err)
	}
	job.addOutputPath("markdown", mdPath)

	job.setProgress(75, "")
	if doc.HTML != "" {
		m.writeExport(job, "html", filepath.Join(outputBase, stem+".html"), []byte(doc.HTML))
	}

	job.setProgress(80, "")
	if len(doc.JSON) > 0 {
		m.writeExport(job, "json", filepath.Join(outputBase, stem+".json"), doc.JSON)
	}

	job.setProgress(85, "")
	if doc.Text != "" {
		m.writeExport(job, "text", filepath.Join(outputBase, stem+".txt"), []byte(doc.Text))
	}
	if doc.DocTags != "" {
		m.writeExport(job, "doctags", filepath.Join(outputBase, stem+".doctags"), []byte(doc.DocTags))
	}
	if len(doc.DocumentTokens) > 0 {
		m.writeExport(job, "document_tokens", filepath.Join(outputBase, stem+".tokens.json"), doc.DocumentTokens)
	}

	job.setProgress(90, "Generating chunks for RAG...")

	if job.Settings.Chunking.Enabled && m.chunker != nil {
		chunks := m.chunker.Chunk(doc.Markdown, job.Settings.Chunking.MaxTokens, job.Settings.Chunking.MergePeers)
		job.setChunks(chunks)
		if len(chunks) > 0 {
			if data, err := json.MarshalIndent(chunks, "", "  "); err == nil {
				m.writeExport(job, "chunks", filepath.Join(outputBase, stem+".chunks.json"), data)
			}
		}
	}

	view := job.View()
	warnings := res.Errors
	if warnings == nil {
		warnings = []string{}
	}
	formats := make([]string, 0, len(view.OutputPaths))
	for format := range view.OutputPaths {
		formats = append(formats, format)
	}

	summary := &ResultSummary{
		MarkdownPreview:  markdownPreview(doc.Markdown),
		FormatsAvailable: formats,
		PageCount:        res.Document.PageCount,
		ImagesCount:      len(view.Images),
		TablesCount:      len(view.Tables),
		ChunksCount:      len(view.Chunks),
		Warnings:         warnings,
	}

	message := "Conversion completed successfully"
	if res.Status == engine.StatusPartialSuccess {
		message = "Conversion completed with some warnings"
	}
	job.complete(message, summary)
	return nil
}

func (m *Materializer) writeExport(job *Job, format, path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if m.logger != nil {
			m.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("format", format).
				Msg("Export failed")
		}
		return
	}
	job.addOutputPath(format, path)
}

func (m *Materializer) extractImages(doc *engine.Document, outputBase string) []ImageArtifact {
	if len(doc.Pictures) == 0 {
		return nil
	}

	imagesDir := filepath.Join(outputBase, "images")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		if m.logger != nil {
			m.logger.Warn().Err(err).Msg("Create images dir failed")
		}
		return nil
	}

	var out []ImageArtifact
	for i, pic := range doc.Pictures {
		if len(pic.Data) == 0 {
			continue
		}
		filename := fmt.Sprintf("image_%d.png", i+1)
		path := filepath.Join(imagesDir, filename)
		if err := os.WriteFile(path, pic.Data, 0o644); err != nil {
			if m.logger != nil {
				m.logger.Warn().Err(err).Int("image", i+1).Msg("Write image failed")
			}
			continue
		}
		out = append(out, ImageArtifact{
			ID:       i + 1,
			Filename: filename,
			Path:     path,
			Caption:  pic.Caption,
			Label:    pic.Label,
		})
	}
	return out
}

func (m *Materializer) extractTables(doc *engine.Document, outputBase string) []TableArtifact {
	if len(doc.Tables) == 0 {
		return nil
	}

	tablesDir := filepath.Join(outputBase, "tables")
	if err := os.MkdirAll(tablesDir, 0o755); err != nil {
		if m.logger != nil {
			m.logger.Warn().Err(err).Msg("Create tables dir failed")
		}
		return nil
	}

	var out []TableArtifact
	for i, table := range doc.Tables {
		artifact := TableArtifact{
			ID:      i + 1,
			Label:   table.Label,
			Caption: table.Caption,
			Rows:    table.Grid,
		}

		if len(table.Grid) > 0 {
			csvPath := filepath.Join(tablesDir, fmt.Sprintf("table_%d.csv", i+1))
			if err := writeCSV(csvPath, table.Grid); err != nil {
				if m.logger != nil {
					m.logger.Warn().Err(err).Int("table", i+1).Msg("Write table CSV failed")
				}
			} else {
				artifact.CSVPath = csvPath
			}
		}

		if len(table.Image) > 0 {
			imgPath := filepath.Join(tablesDir, fmt.Sprintf("table_%d.png", i+1))
			if err := os.WriteFile(imgPath, table.Image, 0o644); err != nil {
				if m.logger != nil {
					m.logger.Warn().Err(err).Int("table", i+1).Msg("Write table image failed")
				}
			} else {
				artifact.ImagePath = imgPath
			}
		}

		out = append(out, artifact)
	}
	return out
}

func writeCSV(path string, grid [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(grid); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// calculateConfidence averages every confidence signal the engine reported:
// layout clusters and their children, OCR cells, page-level scores, and the
// document metadata score. Returns nil when none are present.
func calculateConfidence(res *engine.Result) *float64 {
	var values []float64

	for _, page := range res.Pages {
		for _, cluster := range page.Clusters {
			if cluster.Confidence != nil {
				values = append(values, *cluster.Confidence)
			}
			for _, child := range cluster.Children {
				if child.Confidence != nil {
					values = append(values, *child.Confidence)
				}
			}
		}
		for _, cell := range page.OCRCells {
			if cell.Confidence != nil {
				values = append(values, *cell.Confidence)
			}
		}
		if page.Confidence != nil {
			values = append(values, *page.Confidence)
		}
	}

	if res.Document.Confidence != nil {
		values = append(values, *res.Document.Confidence)
	}

	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	return &avg
}

func markdownPreview(markdown string) string {
	runes := []rune(markdown)
	if len(runes) <= markdownPreviewLimit {
		return markdown
	}
	return string(runes[:markdownPreviewLimit])
}
