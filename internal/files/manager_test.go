package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	m, err := NewManager(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"))
	require.NoError(t, err)
	return m
}

func TestAllowedFile(t *testing.T) {
	assert.True(t, AllowedFile("report.pdf"))
	assert.True(t, AllowedFile("REPORT.PDF"))
	assert.True(t, AllowedFile("notes.adoc"))
	assert.False(t, AllowedFile("binary.exe"))
	assert.False(t, AllowedFile("noextension"))
}

func TestDetectInputFormat(t *testing.T) {
	assert.Equal(t, "pdf", DetectInputFormat("a.pdf"))
	assert.Equal(t, "image", DetectInputFormat("scan.JPEG"))
	assert.Equal(t, "md", DetectInputFormat("readme.markdown"))
	assert.Equal(t, "", DetectInputFormat("file.unknown"))
}

func TestSecureFilename(t *testing.T) {
	assert.Equal(t, "passwd", SecureFilename("../../etc/passwd"))
	assert.Equal(t, "my_report_final.pdf", SecureFilename("my report final.pdf"))
	assert.Equal(t, "unnamed_file", SecureFilename("///"))
}

func TestSaveUpload_UniqueNamesAndLowercaseExt(t *testing.T) {
	m := newTestManager(t)

	p1, safe, size, err := m.SaveUpload(strings.NewReader("hello"), "Report.PDF")
	require.NoError(t, err)
	p2, _, _, err := m.SaveUpload(strings.NewReader("hello"), "Report.PDF")
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.Equal(t, "Report.PDF", safe)
	assert.Equal(t, int64(5), size)
	assert.True(t, strings.HasSuffix(p1, ".pdf"))

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestOutputPath_OnlyExistingFiles(t *testing.T) {
	m := newTestManager(t)
	dir, err := m.JobOutputDir("job-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte("# hi"), 0o644))

	assert.NotEmpty(t, m.OutputPath("job-1", "markdown", "doc.pdf"))
	assert.Empty(t, m.OutputPath("job-1", "html", "doc.pdf"))
	assert.Empty(t, m.OutputPath("job-2", "markdown", "doc.pdf"))
}

func TestDeleteUpload_RefusesOutsidePaths(t *testing.T) {
	m := newTestManager(t)
	path, _, _, err := m.SaveUpload(strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "victim.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	assert.False(t, m.DeleteUpload(outside))
	assert.True(t, m.DeleteUpload(path))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteOutputDir(t *testing.T) {
	m := newTestManager(t)
	dir, err := m.JobOutputDir("job-9")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte("x"), 0o644))

	assert.True(t, m.DeleteOutputDir("job-9"))
	assert.False(t, m.DeleteOutputDir("job-9"))
	assert.False(t, m.DeleteOutputDir(""))
}

func TestCleanupOldFiles(t *testing.T) {
	m := newTestManager(t)

	oldUpload, _, _, err := m.SaveUpload(strings.NewReader("x"), "old.txt")
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldUpload, past, past))

	_, _, _, err = m.SaveUpload(strings.NewReader("x"), "new.txt")
	require.NoError(t, err)

	oldDir, err := m.JobOutputDir("old-job")
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(oldDir, past, past))

	uploads, outputs := m.CleanupOldFiles(24 * time.Hour)
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 1, outputs)
}

func TestGetStorageStats(t *testing.T) {
	m := newTestManager(t)
	_, _, _, err := m.SaveUpload(strings.NewReader("12345"), "a.txt")
	require.NoError(t, err)
	dir, err := m.JobOutputDir("job-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte("1234567890"), 0o644))

	stats := m.GetStorageStats()
	assert.Equal(t, 1, stats.Uploads.Count)
	assert.Equal(t, int64(5), stats.Uploads.SizeBytes)
	assert.Equal(t, 1, stats.Outputs.Count)
	assert.Equal(t, int64(10), stats.Outputs.SizeBytes)
}
