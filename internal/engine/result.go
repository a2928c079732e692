package engine

import "encoding/json"

// Status is the engine's own verdict on a conversion.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailure        Status = "failure"
)

// Result is the engine process output for one conversion.
type Result struct {
	Status   Status   `json:"status"`
	Errors   []string `json:"errors,omitempty"`
	Pages    []Page   `json:"pages,omitempty"`
	Document Document `json:"document"`
}

// Page carries per-page layout predictions, used for confidence scoring.
type Page struct {
	Number     int       `json:"number"`
	Confidence *float64  `json:"confidence,omitempty"`
	Clusters   []Cluster `json:"clusters,omitempty"`
	OCRCells   []OCRCell `json:"ocr_cells,omitempty"`
}

// Cluster is one layout prediction region, possibly with nested children.
type Cluster struct {
	Confidence *float64  `json:"confidence,omitempty"`
	Children   []Cluster `json:"children,omitempty"`
}

// OCRCell is one recognized text cell.
type OCRCell struct {
	Text       string   `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Document holds the converted content in every renderable representation.
// Empty representations mean the engine could not produce that export.
type Document struct {
	Markdown       string          `json:"markdown"`
	HTML           string          `json:"html,omitempty"`
	Text           string          `json:"text,omitempty"`
	DocTags        string          `json:"doctags,omitempty"`
	JSON           json.RawMessage `json:"json,omitempty"`
	DocumentTokens json.RawMessage `json:"document_tokens,omitempty"`
	Confidence     *float64        `json:"confidence,omitempty"`
	PageCount      int             `json:"page_count"`
	Pictures       []Picture       `json:"pictures,omitempty"`
	Tables         []Table         `json:"tables,omitempty"`
}

// Picture is an extracted figure. Data is PNG bytes, base64 on the wire.
type Picture struct {
	Data    []byte `json:"data,omitempty"`
	Caption string `json:"caption,omitempty"`
	Label   string `json:"label,omitempty"`
}

// Table is an extracted table with its cell grid and optional rendering.
type Table struct {
	Label   string     `json:"label,omitempty"`
	Caption string     `json:"caption,omitempty"`
	Grid    [][]string `json:"grid,omitempty"`
	Image   []byte     `json:"image,omitempty"`
}
