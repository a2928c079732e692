package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/ducklinghq/duckling/internal/observability"
)

// ExecConverter invokes the engine binary for each conversion. Options are
// passed as a JSON file; the engine writes its result JSON to a temp file.
type ExecConverter struct {
	binPath string
	opts    Options
	logger  *observability.Logger
}

// NewExecFactory returns a Factory producing converters that shell out to
// the engine binary at binPath.
func NewExecFactory(binPath string, logger *observability.Logger) Factory {
	return func(opts Options) (Converter, error) {
		if binPath == "" {
			return nil, fmt.Errorf("engine binary path not configured")
		}
		return &ExecConverter{binPath: binPath, opts: opts, logger: logger}, nil
	}
}

// Convert runs the engine process and decodes its result.
func (c *ExecConverter) Convert(ctx context.Context, inputPath string) (*Result, error) {
	optsFile, err := os.CreateTemp("", "duckling-opts-*.json")
	if err != nil {
		return nil, fmt.Errorf("create options file: %w", err)
	}
	optsPath := optsFile.Name()
	defer os.Remove(optsPath)

	if err := json.NewEncoder(optsFile).Encode(c.opts); err != nil {
		optsFile.Close()
		return nil, fmt.Errorf("write options file: %w", err)
	}
	optsFile.Close()

	resultFile, err := os.CreateTemp("", "duckling-result-*.json")
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	resultPath := resultFile.Name()
	resultFile.Close()
	defer os.Remove(resultPath)

	if c.opts.DocumentTimeout != nil && *c.opts.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*c.opts.DocumentTimeout*float64(time.Second)))
		defer cancel()
	}

	cmd := exec.CommandContext(ctx,
		c.binPath, "convert",
		"--input", inputPath,
		"--options", optsPath,
		"--output", resultPath,
	)

	if c.logger != nil {
		c.logger.Debug().
			Str("input_path", inputPath).
			Str("bin_path", c.binPath).
			Msg("Running conversion engine")
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, NewConversionError(fmt.Sprintf("engine failed: %v, output: %s", err, string(output)))
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		return nil, fmt.Errorf("read engine result: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode engine result: %w", err)
	}

	return &res, nil
}
