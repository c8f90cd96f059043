package source_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytserve/ytserve/internal/classify"
	"github.com/ytserve/ytserve/internal/source"
)

func Test_Validate_AcceptedShapes(t *testing.T) {
	t.Parallel()
	validator := source.NewValidator(nil)

	tests := map[string]struct {
		raw  string
		want string
	}{
		"watch page":       {"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		"short link":       {"https://youtu.be/dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ"},
		"shorts path":      {"https://www.youtube.com/shorts/abc123", "https://www.youtube.com/shorts/abc123"},
		"live path":        {"https://www.youtube.com/live/abc123", "https://www.youtube.com/live/abc123"},
		"embed path":       {"https://www.youtube.com/embed/abc123", "https://www.youtube.com/embed/abc123"},
		"mobile host":      {"https://m.youtube.com/watch?v=abc123", "https://m.youtube.com/watch?v=abc123"},
		"music host":       {"https://music.youtube.com/watch?v=abc123", "https://music.youtube.com/watch?v=abc123"},
		"bare host":        {"https://www.youtube.com", "https://www.youtube.com"},
		"schemeless":       {"www.youtube.com/watch?v=abc123", "https://www.youtube.com/watch?v=abc123"},
		"whitespace edges": {"  https://youtu.be/abc123  ", "https://youtu.be/abc123"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := validator.Validate(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func Test_Validate_RejectsMalformed(t *testing.T) {
	t.Parallel()
	validator := source.NewValidator(nil)

	for name, raw := range map[string]string{
		"empty":           "",
		"whitespace only": "   ",
		"not a url":       "not a url",
		"bad scheme":      "ftp://youtube.com/watch?v=abc",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := validator.Validate(raw)
			require.Error(t, err)
			assert.True(t, classify.Is(err, classify.InvalidRequest), "expected InvalidRequest, got %v", err)
		})
	}
}

func Test_Validate_RejectsUnsupported(t *testing.T) {
	t.Parallel()
	validator := source.NewValidator(nil)

	for name, raw := range map[string]string{
		"other host":       "https://vimeo.com/12345",
		"lookalike host":   "https://youtube.com.evil.example/watch?v=abc",
		"watch without id": "https://www.youtube.com/watch",
		"unknown path":     "https://www.youtube.com/feed/subscriptions",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := validator.Validate(raw)
			require.Error(t, err)
			assert.True(t, classify.Is(err, classify.UnsupportedSource), "expected UnsupportedSource, got %v", err)
		})
	}
}

func Test_Validate_ExtraHosts(t *testing.T) {
	t.Parallel()
	validator := source.NewValidator([]string{"video.example.com"})

	got, err := validator.Validate("https://video.example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://video.example.com/watch?v=abc123", got)
}

func Test_LoadExtraHosts(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hosts.yml")
	require.NoError(t, os.WriteFile(path, []byte("- video.example.com\n- other.example.com\n"), 0o644))

	hosts, err := source.LoadExtraHosts(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"video.example.com", "other.example.com"}, hosts)

	_, err = source.LoadExtraHosts(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
