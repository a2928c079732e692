package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducklinghq/duckling/internal/config"
	"github.com/ducklinghq/duckling/internal/convert"
	"github.com/ducklinghq/duckling/internal/engine"
	"github.com/ducklinghq/duckling/internal/files"
	"github.com/ducklinghq/duckling/internal/history"
	"github.com/ducklinghq/duckling/internal/observability"
	"github.com/ducklinghq/duckling/internal/settings"
)

type fixedConverter struct {
	result *engine.Result
	err    error
}

func (c *fixedConverter) Convert(ctx context.Context, inputPath string) (*engine.Result, error) {
	return c.result, c.err
}

func successFactory() engine.Factory {
	return func(opts engine.Options) (engine.Converter, error) {
		return &fixedConverter{
			result: &engine.Result{
				Status: engine.StatusSuccess,
				Document: engine.Document{
					Markdown:  "# Report\n\nFull text body.",
					Text:      "Report. Full text body.",
					PageCount: 3,
				},
			},
		}, nil
	}
}

func newTestServer(t *testing.T, factory engine.Factory) (*httptest.Server, *Services) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Storage.OutputDir = filepath.Join(dir, "outputs")
	cfg.Storage.SettingsPath = filepath.Join(dir, "user_settings.json")
	cfg.Database.SQLite.Path = ":memory:"

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "json"})

	fm, err := files.NewManager(cfg.Storage.UploadDir, cfg.Storage.OutputDir)
	require.NoError(t, err)

	db, err := history.Open(context.Background(), cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	adapter, err := convert.NewAdapter(factory, 4, logger)
	require.NoError(t, err)

	materializer := convert.NewMaterializer(fm, nil, logger)
	registry := convert.NewRegistry(fm)
	scheduler := convert.NewScheduler(adapter, materializer, logger, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		scheduler.Shutdown(ctx)
	})

	svcs := &Services{
		Files:     fm,
		Settings:  settings.NewStore(cfg.Storage.SettingsPath),
		History:   history.NewStore(db),
		Registry:  registry,
		Scheduler: scheduler,
		db:        db,
	}

	ts := httptest.NewServer(NewRouter(logger, cfg, svcs))
	t.Cleanup(ts.Close)
	return ts, svcs
}

func uploadFile(t *testing.T, ts *httptest.Server, filename, content string) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/convert", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	return decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func waitForStatus(t *testing.T, ts *httptest.Server, jobID, want string) map[string]interface{} {
	t.Helper()
	var last map[string]interface{}
	require.Eventually(t, func() bool {
		code, payload := getJSON(t, ts.URL+"/api/convert/"+jobID+"/status")
		if code != http.StatusOK {
			return false
		}
		last = payload
		return payload["status"] == want
	}, 5*time.Second, 20*time.Millisecond)
	return last
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	code, payload := getJSON(t, ts.URL+"/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, "duckling", payload["service"])
}

func TestFormatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	code, payload := getJSON(t, ts.URL+"/api/formats")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, payload["input_formats"])
	assert.NotEmpty(t, payload["output_formats"])
}

func TestUploadLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	started := uploadFile(t, ts, "report.md", "# Report\n\nsome text")
	jobID := started["job_id"].(string)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, "report.md", started["filename"])
	assert.Equal(t, "md", started["input_format"])

	status := waitForStatus(t, ts, jobID, "completed")
	assert.Equal(t, float64(100), status["progress"])
	assert.Contains(t, status["formats_available"], "markdown")

	code, result := getJSON(t, ts.URL+"/api/convert/"+jobID+"/result")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", result["status"])
	assert.NotNil(t, result["result"])
	assert.NotEmpty(t, result["completed_at"])

	resp, err := http.Get(ts.URL + "/api/export/" + jobID + "/markdown")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "# Report\n\nFull text body.", string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	code, content := getJSON(t, ts.URL+"/api/export/"+jobID+"/markdown/content")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "# Report\n\nFull text body.", content["content"])
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "malware.exe")
	require.NoError(t, err)
	part.Write([]byte("MZ"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/convert", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusUnknownJob(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	code, _ := getJSON(t, ts.URL+"/api/convert/no-such-job/status")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusFallsBackToHistory(t *testing.T) {
	ts, svcs := newTestServer(t, successFactory())

	started := uploadFile(t, ts, "notes.md", "# Notes")
	jobID := started["job_id"].(string)
	waitForStatus(t, ts, jobID, "completed")

	// The history record is written by the completion callback
	require.Eventually(t, func() bool {
		code, entry := getJSON(t, ts.URL+"/api/history/"+jobID)
		return code == http.StatusOK && entry["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	// Evict the job from the registry; status must be answered from history
	svcs.Registry.Remove(jobID)

	code, status := getJSON(t, ts.URL+"/api/convert/"+jobID+"/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", status["status"])
	assert.Equal(t, float64(100), status["progress"])
	assert.Equal(t, "Conversion completed", status["message"])
}

func TestBatchUpload(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.md", "b.md"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		part.Write([]byte("# " + name))
	}
	part, err := mw.CreateFormFile("files", "bad.exe")
	require.NoError(t, err)
	part.Write([]byte("MZ"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/convert/batch", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	payload := decodeBody(t, resp)
	assert.Equal(t, float64(3), payload["total"])

	jobs := payload["jobs"].([]interface{})
	rejected := 0
	for _, j := range jobs {
		job := j.(map[string]interface{})
		if job["status"] == "rejected" {
			rejected++
			assert.Equal(t, "bad.exe", job["filename"])
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestConvertURLRequiresURL(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	resp, err := http.Post(ts.URL+"/api/convert/url", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertFromURL(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Remote\n\nfetched")
	}))
	defer origin.Close()

	ts, _ := newTestServer(t, successFactory())

	body := fmt.Sprintf(`{"url": %q, "filename": "remote.md"}`, origin.URL+"/doc.md")
	resp, err := http.Post(ts.URL+"/api/convert/url", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	payload := decodeBody(t, resp)
	jobID := payload["job_id"].(string)
	waitForStatus(t, ts, jobID, "completed")
}

func TestDeleteJobRemovesStatusAndHistory(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	started := uploadFile(t, ts, "gone.md", "# Gone")
	jobID := started["job_id"].(string)
	waitForStatus(t, ts, jobID, "completed")

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/convert/"+jobID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, _ := getJSON(t, ts.URL+"/api/convert/"+jobID+"/status")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestExportInvalidFormat(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	code, _ := getJSON(t, ts.URL+"/api/export/whatever/yaml")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSettingsRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	code, payload := getJSON(t, ts.URL+"/api/settings")
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, payload["settings"])
	assert.NotNil(t, payload["defaults"])

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/settings/ocr", strings.NewReader(`{"backend": "easyocr", "use_gpu": true}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody(t, resp)
	ocr := updated["ocr"].(map[string]interface{})
	assert.Equal(t, "easyocr", ocr["backend"])
	assert.Equal(t, true, ocr["use_gpu"])

	// Reset restores defaults
	resetResp, err := http.Post(ts.URL+"/api/settings/reset", "application/json", nil)
	require.NoError(t, err)
	defer resetResp.Body.Close()
	require.Equal(t, http.StatusOK, resetResp.StatusCode)

	code, payload = getJSON(t, ts.URL+"/api/settings/ocr")
	require.Equal(t, http.StatusOK, code)
	ocr = payload["ocr"].(map[string]interface{})
	assert.Equal(t, "ocrmac", ocr["backend"])
}

func TestSettingsSectionValidation(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	cases := []struct {
		section string
		body    string
	}{
		{"ocr", `{"backend": "bogus"}`},
		{"ocr", `{"confidence_threshold": 2}`},
		{"ocr", `{"enabled": "yes"}`},
		{"tables", `{"mode": "turbo"}`},
		{"images", `{"images_scale": 9.5}`},
		{"performance", `{"num_threads": 0}`},
		{"performance", `{"num_threads": 2.5}`},
		{"performance", `{"document_timeout": -1}`},
		{"chunking", `{"max_tokens": 16}`},
		{"output", `{"default_format": "pdf"}`},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/settings/"+tc.section, strings.NewReader(tc.body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "section %s body %s", tc.section, tc.body)
	}
}

func TestSettingsUpdateRequiresJSON(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/settings", strings.NewReader("backend=easyocr"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, successFactory())

	started := uploadFile(t, ts, "tracked.md", "# Tracked")
	jobID := started["job_id"].(string)
	waitForStatus(t, ts, jobID, "completed")

	require.Eventually(t, func() bool {
		code, payload := getJSON(t, ts.URL+"/api/history")
		if code != http.StatusOK {
			return false
		}
		return payload["count"].(float64) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	code, stats := getJSON(t, ts.URL+"/api/history/stats")
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, stats["conversions"])
	assert.NotNil(t, stats["storage"])

	code, search := getJSON(t, ts.URL+"/api/history/search?q=tracked")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), search["count"])

	code, export := getJSON(t, ts.URL+"/api/history/export")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, export["exported_at"])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/history/"+jobID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, _ = getJSON(t, ts.URL+"/api/history/"+jobID)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFailedConversionSurfacesError(t *testing.T) {
	factory := func(opts engine.Options) (engine.Converter, error) {
		return &fixedConverter{err: engine.NewConversionError("corrupt file header")}, nil
	}
	ts, _ := newTestServer(t, factory)

	started := uploadFile(t, ts, "broken.md", "# Broken")
	jobID := started["job_id"].(string)

	status := waitForStatus(t, ts, jobID, "failed")
	assert.Contains(t, status["error"], "corrupt file header")
}
