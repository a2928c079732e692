package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// apiClient talks to a running Duckling API server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

type conversionStarted struct {
	JobID       string `json:"job_id"`
	Filename    string `json:"filename"`
	InputFormat string `json:"input_format"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

type jobStatus struct {
	JobID            string   `json:"job_id"`
	Status           string   `json:"status"`
	Progress         int      `json:"progress"`
	Message          string   `json:"message"`
	Confidence       *float64 `json:"confidence"`
	FormatsAvailable []string `json:"formats_available"`
	Error            string   `json:"error"`
}

type historyEntry struct {
	ID               string   `json:"id"`
	OriginalFilename string   `json:"original_filename"`
	InputFormat      string   `json:"input_format"`
	Status           string   `json:"status"`
	Confidence       *float64 `json:"confidence"`
	CreatedAt        string   `json:"created_at"`
	ErrorMessage     string   `json:"error_message"`
}

type historyPage struct {
	Entries []historyEntry `json:"entries"`
	Count   int            `json:"count"`
}

type apiError struct {
	Message string `json:"error"`
	Detail  string `json:"detail"`
}

func (c *apiClient) decodeError(resp *http.Response) error {
	var e apiError
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Errorf("%s: %s", e.Message, e.Detail)
	}
	return fmt.Errorf("%s", e.Message)
}

// Convert uploads a document and starts a conversion.
func (c *apiClient) Convert(ctx context.Context, path, settingsJSON string) (*conversionStarted, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if settingsJSON != "" {
		if err := mw.WriteField("settings", settingsJSON); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/convert", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return nil, c.decodeError(resp)
	}

	var started conversionStarted
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, err
	}
	return &started, nil
}

// Status fetches the current state of a job.
func (c *apiClient) Status(ctx context.Context, jobID string) (*jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/convert/"+url.PathEscape(jobID)+"/status", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Download writes a converted export to outPath.
func (c *apiClient) Download(ctx context.Context, jobID, format, outPath string) error {
	u := fmt.Sprintf("%s/api/export/%s/%s", c.baseURL, url.PathEscape(jobID), url.PathEscape(format))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// Recent fetches the most recent history entries.
func (c *apiClient) Recent(ctx context.Context, limit int) (*historyPage, error) {
	u := fmt.Sprintf("%s/api/history/recent?limit=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var page historyPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}
