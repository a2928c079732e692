// Package history persists conversion records in a relational store.
package history

import "time"

// Entry is one conversion history record.
type Entry struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename"`
	InputFormat      string     `json:"input_format,omitempty"`
	Status           string     `json:"status"`
	Confidence       *float64   `json:"confidence"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	Settings         string     `json:"settings,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	OutputPath       string     `json:"output_path,omitempty"`
	FileSize         *int64     `json:"file_size"`
}

// Stats summarizes the history table.
type Stats struct {
	Total           int            `json:"total"`
	Completed       int            `json:"completed"`
	Failed          int            `json:"failed"`
	Pending         int            `json:"pending"`
	Processing      int            `json:"processing"`
	SuccessRate     float64        `json:"success_rate"`
	FormatBreakdown map[string]int `json:"format_breakdown"`
}
