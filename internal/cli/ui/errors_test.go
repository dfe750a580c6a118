package ui

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/particlekit/particlekit/internal/loader"
	"github.com/particlekit/particlekit/internal/plugin"
	"github.com/particlekit/particlekit/internal/storage"
)

func TestFormatError(t *testing.T) {
	tests := []struct {
		name     string
		opts     ErrorOptions
		contains []string
	}{
		{
			name:     "with context",
			opts:     ErrorOptions{Context: "unknown source", Problem: "no such type"},
			contains: []string{"❌ UNKNOWN SOURCE\n", "   no such type\n"},
		},
		{
			name:     "without context",
			opts:     ErrorOptions{Problem: "boom"},
			contains: []string{"❌ boom\n"},
		},
		{
			name: "suggestions and help",
			opts: ErrorOptions{
				Problem:      "no such type",
				Consequence:  "nothing was painted",
				Suggestions:  []string{"uniform", "plaintext"},
				HelpCommands: []string{"See all sources: particlekit plugins list"},
			},
			contains: []string{
				"   nothing was painted\n",
				"   Did you mean: uniform, plaintext?\n",
				"   → See all sources: particlekit plugins list\n",
			},
		},
		{
			name:     "warning",
			opts:     ErrorOptions{Level: ErrorLevelWarning, Problem: "careful"},
			contains: []string{"⚠️ careful"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.NoColor = true
			out := FormatError(tt.opts)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	WriteError(&buf, ErrorOptions{Problem: "boom", NoColor: true})
	assert.Equal(t, "❌ boom\n", buf.String())
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		context     string
		suggestions []string
		help        string
	}{
		{
			name:        "unknown type",
			err:         fmt.Errorf("paint: %w", &plugin.UnknownTypeError{Point: "Source", Tag: "unifrom", Known: []string{"plaintext", "uniform"}}),
			context:     "unknown source",
			suggestions: []string{"uniform"},
			help:        "particlekit plugins list",
		},
		{
			name:    "argument error",
			err:     &plugin.ArgumentError{Descriptor: "uniform:ten:1", Field: "N", Reason: "not an int"},
			context: "invalid descriptor",
			help:    "particlekit plugins help uniform",
		},
		{
			name:    "load error",
			err:     &loader.LoadError{Path: "plugins", Err: loader.ErrDirectoryUnsupported},
			context: "plugin load failed",
			help:    "--plugin",
		},
		{
			name:        "unknown dimension",
			err:         &storage.UnknownDimError{Dim: "3d", Known: []storage.Dim{"1d", "2d"}},
			context:     "unknown storage",
			suggestions: []string{"1d", "2d"},
			help:        "particlekit storage list",
		},
		{
			name: "anything else",
			err:  fmt.Errorf("disk full"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DescribeError(tt.err, true)
			assert.Equal(t, tt.context, opts.Context)
			assert.Equal(t, tt.err.Error(), opts.Problem)
			assert.Equal(t, tt.suggestions, opts.Suggestions)
			if tt.help != "" {
				assert.Contains(t, FormatError(opts), tt.help)
			}
		})
	}
}

func TestFormatSuccess(t *testing.T) {
	assert.Equal(t, "✓ done", FormatSuccess("done", true))
}
