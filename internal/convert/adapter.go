package convert

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ducklinghq/duckling/internal/engine"
	"github.com/ducklinghq/duckling/internal/observability"
	"github.com/ducklinghq/duckling/internal/settings"
)

// OCRBackend identifies a text recognition engine.
type OCRBackend string

const (
	BackendEasyOCR   OCRBackend = "easyocr"
	BackendTesseract OCRBackend = "tesseract"
	BackendOCRMac    OCRBackend = "ocrmac"
	BackendRapidOCR  OCRBackend = "rapidocr"
)

// ParseOCRBackend maps an identifier to a backend. Unknown identifiers fall
// back to EasyOCR.
func ParseOCRBackend(s string) OCRBackend {
	switch OCRBackend(s) {
	case BackendEasyOCR, BackendTesseract, BackendOCRMac, BackendRapidOCR:
		return OCRBackend(s)
	default:
		return BackendEasyOCR
	}
}

// Device identifies a processing accelerator.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceMPS  Device = "mps"
)

// ParseDevice maps an identifier to a device. Unknown identifiers fall back
// to auto selection.
func ParseDevice(s string) Device {
	switch Device(s) {
	case DeviceAuto, DeviceCPU, DeviceCUDA, DeviceMPS:
		return Device(s)
	default:
		return DeviceAuto
	}
}

// TableMode selects the table structure recognition mode.
type TableMode string

const (
	TableModeFast     TableMode = "fast"
	TableModeAccurate TableMode = "accurate"
)

// ParseTableMode maps an identifier to a mode. Unknown identifiers fall back
// to accurate.
func ParseTableMode(s string) TableMode {
	switch TableMode(s) {
	case TableModeFast, TableModeAccurate:
		return TableMode(s)
	default:
		return TableModeAccurate
	}
}

// easyOCRLanguageMap translates standard language codes to the EasyOCR
// vocabulary where it differs.
var easyOCRLanguageMap = map[string]string{
	"zh":    "ch_sim",
	"zh-tw": "ch_tra",
}

func easyOCRLanguage(code string) string {
	if mapped, ok := easyOCRLanguageMap[code]; ok {
		return mapped
	}
	return code
}

// ocrErrorIndicators mark engine failures caused by OCR or accelerator
// initialization, the class of errors worth retrying with OCR disabled.
var ocrErrorIndicators = []string{
	"meta tensor", "easyocr", "tesseract", "ocrmac", "rapidocr",
	"ocr", "ocroptions", "no module named", "cannot import",
	"cuda", "gpu",
}

func isOCRError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range ocrErrorIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// Adapter translates settings snapshots into engine option sets and runs
// conversions, retrying once without OCR when the failure looks like an OCR
// or accelerator initialization problem. Configured converters are cached
// per settings digest in a bounded LRU.
type Adapter struct {
	factory engine.Factory
	cache   *lru.Cache[string, engine.Converter]
	logger  *observability.Logger
}

// NewAdapter creates an adapter with the given converter cache capacity.
func NewAdapter(factory engine.Factory, cacheSize int, logger *observability.Logger) (*Adapter, error) {
	cache, err := lru.New[string, engine.Converter](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Adapter{factory: factory, cache: cache, logger: logger}, nil
}

// BuildOptions derives the engine option set from a settings snapshot,
// normalizing enum identifiers through the fallback parsers.
func BuildOptions(snap *settings.Snapshot) engine.Options {
	backend := ParseOCRBackend(snap.OCR.Backend)
	language := snap.OCR.Language
	if backend == BackendEasyOCR {
		language = easyOCRLanguage(language)
	}

	return engine.Options{
		OCR: engine.OCROptions{
			Enabled:             snap.OCR.Enabled,
			Backend:             string(backend),
			Languages:           []string{language},
			ForceFullPage:       snap.OCR.ForceFullPageOCR,
			UseGPU:              snap.OCR.UseGPU,
			ConfidenceThreshold: snap.OCR.ConfidenceThreshold,
			BitmapAreaThreshold: snap.OCR.BitmapAreaThreshold,
		},
		Tables: engine.TableOptions{
			Enabled:        snap.Tables.Enabled,
			Mode:           string(ParseTableMode(snap.Tables.Mode)),
			DoCellMatching: snap.Tables.DoCellMatching,
		},
		Images: engine.ImageOptions{
			GeneratePageImages:    snap.Images.GeneratePageImages,
			GeneratePictureImages: snap.Images.GeneratePictureImages,
			GenerateTableImages:   snap.Images.GenerateTableImages,
			Scale:                 snap.Images.ImagesScale,
		},
		Enrichment: engine.EnrichmentOptions{
			Code:                  snap.Enrichment.Code,
			Formula:               snap.Enrichment.Formula,
			PictureClassification: snap.Enrichment.PictureClassification,
			PictureDescription:    snap.Enrichment.PictureDescription,
		},
		Device:          string(ParseDevice(snap.Performance.Device)),
		NumThreads:      snap.Performance.NumThreads,
		DocumentTimeout: snap.Performance.DocumentTimeout,
	}
}

func (a *Adapter) converterFor(snap *settings.Snapshot) (engine.Converter, error) {
	key := snap.Hash()
	if conv, ok := a.cache.Get(key); ok {
		return conv, nil
	}
	conv, err := a.factory(BuildOptions(snap))
	if err != nil {
		return nil, err
	}
	a.cache.Add(key, conv)
	return conv, nil
}

// Convert runs one conversion. When the first attempt fails with an
// OCR-looking error, onRetry is invoked and the conversion is retried with
// OCR disabled; a successful retry returns degraded=true. Any terminal
// failure is reported as an engine.ConversionError carrying the first
// attempt's message.
func (a *Adapter) Convert(ctx context.Context, inputPath string, snap *settings.Snapshot, onRetry func()) (res *engine.Result, degraded bool, err error) {
	res, err = a.convertOnce(ctx, inputPath, snap)
	if err == nil {
		return res, false, nil
	}

	if !isOCRError(err) {
		return nil, false, engine.NewConversionError(err.Error())
	}

	if a.logger != nil {
		a.logger.Warn().
			Err(err).
			Str("input_path", inputPath).
			Msg("OCR error detected, retrying without OCR")
	}
	if onRetry != nil {
		onRetry()
	}

	fallback := snap.Clone()
	fallback.OCR.Enabled = false

	res, retryErr := a.convertOnce(ctx, inputPath, fallback)
	if retryErr != nil {
		return nil, false, engine.NewConversionError(err.Error())
	}
	return res, true, nil
}

func (a *Adapter) convertOnce(ctx context.Context, inputPath string, snap *settings.Snapshot) (*engine.Result, error) {
	conv, err := a.converterFor(snap)
	if err != nil {
		return nil, err
	}
	return conv.Convert(ctx, inputPath)
}
