package engine

// Options is the full pipeline configuration handed to the engine process.
type Options struct {
	OCR        OCROptions        `json:"ocr"`
	Tables     TableOptions      `json:"tables"`
	Images     ImageOptions      `json:"images"`
	Enrichment EnrichmentOptions `json:"enrichment"`
	Device     string            `json:"device"`
	NumThreads int               `json:"num_threads"`

	// DocumentTimeout bounds a single conversion in seconds. Nil means no
	// limit.
	DocumentTimeout *float64 `json:"document_timeout,omitempty"`
}

// OCROptions configures the text recognition stage.
type OCROptions struct {
	Enabled             bool     `json:"enabled"`
	Backend             string   `json:"backend"`
	Languages           []string `json:"languages"`
	ForceFullPage       bool     `json:"force_full_page"`
	UseGPU              bool     `json:"use_gpu"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	BitmapAreaThreshold float64  `json:"bitmap_area_threshold"`
}

// TableOptions configures table structure recognition.
type TableOptions struct {
	Enabled        bool   `json:"enabled"`
	Mode           string `json:"mode"`
	DoCellMatching bool   `json:"do_cell_matching"`
}

// ImageOptions configures figure and page image generation.
type ImageOptions struct {
	GeneratePageImages    bool    `json:"generate_page_images"`
	GeneratePictureImages bool    `json:"generate_picture_images"`
	GenerateTableImages   bool    `json:"generate_table_images"`
	Scale                 float64 `json:"scale"`
}

// EnrichmentOptions toggles optional content enrichment passes.
type EnrichmentOptions struct {
	Code                  bool `json:"code"`
	Formula               bool `json:"formula"`
	PictureClassification bool `json:"picture_classification"`
	PictureDescription    bool `json:"picture_description"`
}
