package settings

// InputFormat describes a supported input document type.
type InputFormat struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
	Icon       string   `json:"icon"`
}

// OutputFormat describes a supported export format.
type OutputFormat struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
}

// CatalogOption is a generic id/name/description catalog entry.
type CatalogOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Language is an OCR language catalog entry.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedInputFormats lists the document types the engine accepts.
var SupportedInputFormats = []InputFormat{
	{ID: "pdf", Name: "PDF Document", Extensions: []string{".pdf"}, Icon: "document"},
	{ID: "docx", Name: "Microsoft Word", Extensions: []string{".docx"}, Icon: "document"},
	{ID: "pptx", Name: "PowerPoint", Extensions: []string{".pptx"}, Icon: "presentation"},
	{ID: "xlsx", Name: "Excel Spreadsheet", Extensions: []string{".xlsx"}, Icon: "spreadsheet"},
	{ID: "html", Name: "HTML", Extensions: []string{".html", ".htm"}, Icon: "code"},
	{ID: "md", Name: "Markdown", Extensions: []string{".md", ".markdown"}, Icon: "document"},
	{ID: "image", Name: "Image", Extensions: []string{".png", ".jpg", ".jpeg", ".tiff", ".tif", ".gif", ".webp", ".bmp"}, Icon: "image"},
	{ID: "asciidoc", Name: "AsciiDoc", Extensions: []string{".asciidoc", ".adoc"}, Icon: "document"},
	{ID: "xml_pubmed", Name: "PubMed XML", Extensions: []string{".xml"}, Icon: "document"},
	{ID: "xml_uspto", Name: "USPTO Patent XML", Extensions: []string{".xml"}, Icon: "document"},
}

// SupportedOutputFormats lists the export formats the service produces.
var SupportedOutputFormats = []OutputFormat{
	{ID: "markdown", Name: "Markdown", Extension: ".md", MimeType: "text/markdown"},
	{ID: "html", Name: "HTML", Extension: ".html", MimeType: "text/html"},
	{ID: "json", Name: "JSON", Extension: ".json", MimeType: "application/json"},
	{ID: "text", Name: "Plain Text", Extension: ".txt", MimeType: "text/plain"},
	{ID: "doctags", Name: "DocTags", Extension: ".doctags", MimeType: "text/plain"},
	{ID: "document_tokens", Name: "Document Tokens", Extension: ".tokens", MimeType: "application/json"},
}

// OCRBackends lists the recognized OCR engine identifiers.
var OCRBackends = []CatalogOption{
	{ID: "easyocr", Name: "EasyOCR", Description: "General-purpose OCR with GPU support"},
	{ID: "tesseract", Name: "Tesseract", Description: "Classic OCR engine"},
	{ID: "ocrmac", Name: "macOS Vision", Description: "Native macOS OCR (Mac only)"},
	{ID: "rapidocr", Name: "RapidOCR", Description: "Fast OCR with ONNX runtime"},
}

// AcceleratorDevices lists the recognized processing devices.
var AcceleratorDevices = []CatalogOption{
	{ID: "auto", Name: "Auto", Description: "Automatically select best device"},
	{ID: "cpu", Name: "CPU", Description: "Use CPU only"},
	{ID: "cuda", Name: "NVIDIA GPU", Description: "Use CUDA-enabled GPU"},
	{ID: "mps", Name: "Apple Silicon", Description: "Use Apple Metal Performance Shaders"},
}

// TableModes lists the table structure recognition modes.
var TableModes = []CatalogOption{
	{ID: "fast", Name: "Fast", Description: "Faster but less accurate table detection"},
	{ID: "accurate", Name: "Accurate", Description: "More precise table structure recognition"},
}

// OCRLanguages lists the languages accepted by the OCR backends.
var OCRLanguages = []Language{
	{Code: "en", Name: "English"},
	{Code: "de", Name: "German"},
	{Code: "fr", Name: "French"},
	{Code: "es", Name: "Spanish"},
	{Code: "it", Name: "Italian"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "nl", Name: "Dutch"},
	{Code: "pl", Name: "Polish"},
	{Code: "ru", Name: "Russian"},
	{Code: "ja", Name: "Japanese"},
	{Code: "zh", Name: "Chinese (Simplified)"},
	{Code: "zh-tw", Name: "Chinese (Traditional)"},
	{Code: "ko", Name: "Korean"},
	{Code: "ar", Name: "Arabic"},
	{Code: "hi", Name: "Hindi"},
	{Code: "th", Name: "Thai"},
	{Code: "vi", Name: "Vietnamese"},
	{Code: "tr", Name: "Turkish"},
	{Code: "uk", Name: "Ukrainian"},
	{Code: "cs", Name: "Czech"},
	{Code: "el", Name: "Greek"},
	{Code: "he", Name: "Hebrew"},
	{Code: "id", Name: "Indonesian"},
	{Code: "ms", Name: "Malay"},
	{Code: "sv", Name: "Swedish"},
	{Code: "da", Name: "Danish"},
	{Code: "fi", Name: "Finnish"},
	{Code: "no", Name: "Norwegian"},
}

// ValidOutputFormat reports whether id names a supported export format.
func ValidOutputFormat(id string) bool {
	for _, f := range SupportedOutputFormats {
		if f.ID == id {
			return true
		}
	}
	return false
}

// OutputFormatByID returns the catalog entry for an export format.
func OutputFormatByID(id string) (OutputFormat, bool) {
	for _, f := range SupportedOutputFormats {
		if f.ID == id {
			return f, true
		}
	}
	return OutputFormat{}, false
}
