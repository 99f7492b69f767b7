package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadKeywordsFile_List(t *testing.T) {
	path := writeFile(t, "- condomínio residencial\n- \"  \"\n- condomínio clube\n")

	preset, err := LoadKeywordsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"condomínio residencial", "condomínio clube"}, preset.Keywords)
	assert.Empty(t, preset.City)
}

func TestLoadKeywordsFile_Mapping(t *testing.T) {
	path := writeFile(t, `
city: Campinas - SP, Brasil
category: padarias
keywords:
  - padaria
  - confeitaria
`)

	preset, err := LoadKeywordsFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Campinas - SP, Brasil", preset.City)
	assert.Equal(t, "padarias", preset.Category)
	assert.Equal(t, []string{"padaria", "confeitaria"}, preset.Keywords)
}

func TestLoadKeywordsFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "is empty"},
		{"scalar", "just a string", "must be a list or a mapping"},
		{"no keywords", "city: X\n", "has no keywords"},
		{"bad yaml", "keywords: [a, b", "parse keywords file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadKeywordsFile(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadKeywordsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSplitKeywords(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, SplitKeywords(" a, ,b c,"))
	assert.Nil(t, SplitKeywords(""))
}
