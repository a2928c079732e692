package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/ducklinghq/duckling/internal/observability"
	"github.com/ducklinghq/duckling/internal/settings"
)

// SettingsHandler handles conversion settings requests.
type SettingsHandler struct {
	logger *observability.Logger
	store  *settings.Store
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(logger *observability.Logger, store *settings.Store) *SettingsHandler {
	return &SettingsHandler{logger: logger, store: store}
}

// Get handles GET /api/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": h.store.Load(),
		"defaults": settings.DefaultMap(),
	})
}

// Update handles PUT /api/settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	var partial map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	updated, err := h.store.Update(partial)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Settings updated successfully",
		"settings": updated,
	})
}

// Reset handles POST /api/settings/reset.
func (h *SettingsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	defaults, err := h.store.Reset()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset settings", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Settings reset to defaults",
		"settings": defaults,
	})
}

// Formats handles GET /api/formats and GET /api/settings/formats.
func (h *SettingsHandler) Formats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"input_formats":  settings.SupportedInputFormats,
		"output_formats": settings.SupportedOutputFormats,
	})
}

// GetSection handles GET /api/settings/{section} for a known section name,
// returning the current values plus the relevant catalogs.
func (h *SettingsHandler) GetSection(section string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current := h.store.Load()

		resp := map[string]interface{}{
			section: sectionOf(current, section),
		}
		switch section {
		case "ocr":
			resp["available_languages"] = settings.OCRLanguages
			resp["available_backends"] = settings.OCRBackends
		case "tables":
			resp["available_modes"] = settings.TableModes
		case "performance":
			resp["available_devices"] = settings.AcceleratorDevices
		case "output":
			resp["available_formats"] = settings.SupportedOutputFormats
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// UpdateSection handles PUT /api/settings/{section}. Values are validated
// before the shallow merge into the persisted section.
func (h *SettingsHandler) UpdateSection(section string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireJSON(w, r) {
			return
		}

		var partial map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}

		if err := validateSection(section, partial); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}

		updated, err := h.store.UpdateSection(section, partial)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save settings", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": fmt.Sprintf("%s settings updated", sectionTitle(section)),
			section:   updated[section],
		})
	}
}

func sectionOf(m map[string]interface{}, section string) interface{} {
	if v, ok := m[section]; ok {
		return v
	}
	return settings.DefaultMap()[section]
}

func sectionTitle(section string) string {
	switch section {
	case "ocr":
		return "OCR"
	default:
		return strings.ToUpper(section[:1]) + section[1:]
	}
}

func validateSection(section string, partial map[string]interface{}) error {
	switch section {
	case "ocr":
		return validateOCR(partial)
	case "tables":
		return validateTables(partial)
	case "images":
		return validateImages(partial)
	case "performance":
		return validatePerformance(partial)
	case "chunking":
		return validateChunking(partial)
	case "output":
		return validateOutput(partial)
	}
	return nil
}

func validateOCR(m map[string]interface{}) error {
	if v, ok := m["enabled"]; ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Errorf("enabled must be a boolean")
		}
	}
	if v, ok := m["language"]; ok {
		if _, isStr := v.(string); !isStr {
			return fmt.Errorf("language must be a string")
		}
	}
	if v, ok := m["backend"]; ok {
		if !catalogContains(settings.OCRBackends, v) {
			return fmt.Errorf("backend must be one of: %s", catalogIDs(settings.OCRBackends))
		}
	}
	if v, ok := m["force_full_page_ocr"]; ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Errorf("force_full_page_ocr must be a boolean")
		}
	}
	if v, ok := m["use_gpu"]; ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Errorf("use_gpu must be a boolean")
		}
	}
	if v, ok := m["confidence_threshold"]; ok {
		f, isNum := v.(float64)
		if !isNum {
			return fmt.Errorf("confidence_threshold must be a number")
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1")
		}
	}
	return nil
}

func validateTables(m map[string]interface{}) error {
	if v, ok := m["mode"]; ok {
		if !catalogContains(settings.TableModes, v) {
			return fmt.Errorf("mode must be one of: %s", catalogIDs(settings.TableModes))
		}
	}
	return nil
}

func validateImages(m map[string]interface{}) error {
	if v, ok := m["images_scale"]; ok {
		f, isNum := v.(float64)
		if !isNum {
			return fmt.Errorf("images_scale must be a number")
		}
		if f < 0.1 || f > 4.0 {
			return fmt.Errorf("images_scale must be between 0.1 and 4.0")
		}
	}
	return nil
}

func validatePerformance(m map[string]interface{}) error {
	if v, ok := m["device"]; ok {
		if !catalogContains(settings.AcceleratorDevices, v) {
			return fmt.Errorf("device must be one of: %s", catalogIDs(settings.AcceleratorDevices))
		}
	}
	if v, ok := m["num_threads"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("num_threads must be an integer")
		}
		if n < 1 || n > 32 {
			return fmt.Errorf("num_threads must be between 1 and 32")
		}
	}
	if v, ok := m["document_timeout"]; ok && v != nil {
		f, isNum := v.(float64)
		if !isNum {
			return fmt.Errorf("document_timeout must be a number or null")
		}
		if f <= 0 {
			return fmt.Errorf("document_timeout must be positive")
		}
	}
	return nil
}

func validateChunking(m map[string]interface{}) error {
	if v, ok := m["max_tokens"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("max_tokens must be an integer")
		}
		if n < 64 || n > 8192 {
			return fmt.Errorf("max_tokens must be between 64 and 8192")
		}
	}
	return nil
}

func validateOutput(m map[string]interface{}) error {
	if v, ok := m["default_format"]; ok {
		id, isStr := v.(string)
		if !isStr || !settings.ValidOutputFormat(id) {
			ids := make([]string, 0, len(settings.SupportedOutputFormats))
			for _, f := range settings.SupportedOutputFormats {
				ids = append(ids, f.ID)
			}
			return fmt.Errorf("Invalid format. Valid formats: %s", strings.Join(ids, ", "))
		}
	}
	return nil
}

// asInt accepts JSON numbers only when they carry no fractional part.
func asInt(v interface{}) (int, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer")
	}
	return int(f), nil
}

func catalogContains(catalog []settings.CatalogOption, v interface{}) bool {
	id, ok := v.(string)
	if !ok {
		return false
	}
	for _, c := range catalog {
		if c.ID == id {
			return true
		}
	}
	return false
}

func catalogIDs(catalog []settings.CatalogOption) string {
	ids := make([]string, 0, len(catalog))
	for _, c := range catalog {
		ids = append(ids, c.ID)
	}
	return strings.Join(ids, ", ")
}
