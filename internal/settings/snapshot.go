// Package settings holds the conversion settings model: the immutable
// per-job snapshot, the layered resolver, and the persisted user settings
// store.
package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Snapshot is a fully-resolved, immutable view of conversion settings.
// A job captures one at submission time and keeps it for its whole life.
type Snapshot struct {
	OCR         OCRSettings         `json:"ocr"`
	Tables      TableSettings       `json:"tables"`
	Images      ImageSettings       `json:"images"`
	Enrichment  EnrichmentSettings  `json:"enrichment"`
	Output      OutputSettings      `json:"output"`
	Performance PerformanceSettings `json:"performance"`
	Chunking    ChunkingSettings    `json:"chunking"`
}

// OCRSettings controls text recognition.
type OCRSettings struct {
	Enabled             bool    `json:"enabled"`
	Language            string  `json:"language"`
	ForceFullPageOCR    bool    `json:"force_full_page_ocr"`
	Backend             string  `json:"backend"`
	UseGPU              bool    `json:"use_gpu"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	BitmapAreaThreshold float64 `json:"bitmap_area_threshold"`
}

// TableSettings controls table structure extraction.
type TableSettings struct {
	Enabled             bool   `json:"enabled"`
	StructureExtraction bool   `json:"structure_extraction"`
	Mode                string `json:"mode"`
	DoCellMatching      bool   `json:"do_cell_matching"`
}

// ImageSettings controls figure and page image handling.
type ImageSettings struct {
	Extract               bool    `json:"extract"`
	Classify              bool    `json:"classify"`
	GeneratePageImages    bool    `json:"generate_page_images"`
	GeneratePictureImages bool    `json:"generate_picture_images"`
	GenerateTableImages   bool    `json:"generate_table_images"`
	ImagesScale           float64 `json:"images_scale"`
}

// EnrichmentSettings toggles optional content enrichment passes.
type EnrichmentSettings struct {
	Code                  bool `json:"code"`
	Formula               bool `json:"formula"`
	PictureClassification bool `json:"picture_classification"`
	PictureDescription    bool `json:"picture_description"`
}

// OutputSettings controls export defaults.
type OutputSettings struct {
	DefaultFormat string `json:"default_format"`
}

// PerformanceSettings controls engine resource usage.
type PerformanceSettings struct {
	Device          string   `json:"device"`
	NumThreads      int      `json:"num_threads"`
	DocumentTimeout *float64 `json:"document_timeout"`
}

// ChunkingSettings controls retrieval chunk generation.
type ChunkingSettings struct {
	Enabled    bool `json:"enabled"`
	MaxTokens  int  `json:"max_tokens"`
	MergePeers bool `json:"merge_peers"`
}

// Defaults returns the hardcoded baseline settings.
func Defaults() *Snapshot {
	return &Snapshot{
		OCR: OCRSettings{
			Enabled:             true,
			Language:            "en",
			ForceFullPageOCR:    false,
			Backend:             "ocrmac",
			UseGPU:              false,
			ConfidenceThreshold: 0.5,
			BitmapAreaThreshold: 0.05,
		},
		Tables: TableSettings{
			Enabled:             true,
			StructureExtraction: true,
			Mode:                "accurate",
			DoCellMatching:      true,
		},
		Images: ImageSettings{
			Extract:               true,
			Classify:              true,
			GeneratePageImages:    false,
			GeneratePictureImages: true,
			GenerateTableImages:   true,
			ImagesScale:           1.0,
		},
		Enrichment: EnrichmentSettings{},
		Output: OutputSettings{
			DefaultFormat: "markdown",
		},
		Performance: PerformanceSettings{
			Device:     "auto",
			NumThreads: 4,
		},
		Chunking: ChunkingSettings{
			Enabled:    false,
			MaxTokens:  512,
			MergePeers: true,
		},
	}
}

// DefaultMap returns the baseline settings as a nested map, the form the
// resolver layers overrides onto.
func DefaultMap() map[string]interface{} {
	data, _ := json.Marshal(Defaults())
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	return m
}

// Hash returns a stable digest of the snapshot, used to key configured
// converter instances.
func (s *Snapshot) Hash() string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	if s.Performance.DocumentTimeout != nil {
		t := *s.Performance.DocumentTimeout
		out.Performance.DocumentTimeout = &t
	}
	return &out
}
