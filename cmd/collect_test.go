package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suphelp/geo-cli/internal/config"
	"github.com/suphelp/geo-cli/internal/model"
)

func parseCollectFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("collect", pflag.ContinueOnError)
	addCollectFlags(f)
	require.NoError(t, f.Parse(args))
	return f
}

func baseConfig() *config.Config {
	return &config.Config{
		Places: config.PlacesConfig{APIKey: "k", PageSize: 20, MaxPages: 3},
		Collect: config.CollectConfig{
			City:     "Jundiaí - SP, Brasil",
			Category: "condominios",
			Keywords: []string{"condomínio residencial"},
		},
		Export: config.ExportConfig{Dir: ".", Formats: []string{"csv"}, MinPopulation: 750},
	}
}

func TestResolveCollect_ConfigDefaults(t *testing.T) {
	c := baseConfig()
	in, err := resolveCollect(c, parseCollectFlags(t))
	require.NoError(t, err)

	assert.NotEmpty(t, in.RunID)
	assert.Equal(t, "Jundiaí - SP, Brasil", in.LocationQualifier)
	assert.Equal(t, "condominios", in.Category)
	assert.Equal(t, []string{"condomínio residencial"}, in.Keywords)
	assert.False(t, in.Enrich)
	assert.Equal(t, "condominios_jundiai_sp_brasil", in.ExportStem)
}

func TestResolveCollect_FlagsOverride(t *testing.T) {
	c := baseConfig()
	in, err := resolveCollect(c, parseCollectFlags(t,
		"--city", "Campinas",
		"--keywords", "a, b,,c",
		"--category", "clubes",
		"--enrich",
		"--max-pages", "1",
		"--page-size", "10",
		"--bias-lat", "-23.18",
		"--bias-lng", "-46.88",
		"--bias-radius-m", "5000",
		"-o", "out",
		"--format", "csv,xlsx",
		"--csv-pop", "pop.csv",
		"--min-pop", "1000",
	))
	require.NoError(t, err)

	assert.Equal(t, "Campinas", in.LocationQualifier)
	assert.Equal(t, []string{"a", "b", "c"}, in.Keywords)
	assert.Equal(t, "clubes", in.Category)
	assert.True(t, in.Enrich)
	assert.True(t, c.Enrich.Enabled)

	assert.Equal(t, 1, c.Places.MaxPages)
	assert.Equal(t, 10, c.Places.PageSize)
	require.True(t, c.Places.HasBias())
	assert.InDelta(t, -23.18, *c.Places.BiasLat, 1e-9)
	assert.InDelta(t, -46.88, *c.Places.BiasLng, 1e-9)
	assert.InDelta(t, 5000, c.Places.BiasRadiusM, 1e-9)

	assert.Equal(t, "out", c.Export.Dir)
	assert.Equal(t, []string{"csv", "xlsx"}, c.Export.Formats)
	assert.Equal(t, "pop.csv", c.Export.PopulationCSV)
	assert.Equal(t, 1000, c.Export.MinPopulation)
	assert.Equal(t, "clubes_campinas", in.ExportStem)
}

func TestResolveCollect_KeywordsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")
	require.NoError(t, os.WriteFile(path, []byte("city: Itupeva - SP\ncategory: clubes\nkeywords:\n  - clube de campo\n  - associação\n"), 0o644))

	t.Run("preset applies", func(t *testing.T) {
		in, err := resolveCollect(baseConfig(), parseCollectFlags(t, "--keywords-file", path))
		require.NoError(t, err)
		assert.Equal(t, "Itupeva - SP", in.LocationQualifier)
		assert.Equal(t, "clubes", in.Category)
		assert.Equal(t, []string{"clube de campo", "associação"}, in.Keywords)
	})

	t.Run("flags beat preset", func(t *testing.T) {
		in, err := resolveCollect(baseConfig(), parseCollectFlags(t, "--keywords-file", path, "--keywords", "x", "--city", "Louveira"))
		require.NoError(t, err)
		assert.Equal(t, "Louveira", in.LocationQualifier)
		assert.Equal(t, []string{"x"}, in.Keywords)
		assert.Equal(t, "clubes", in.Category)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := resolveCollect(baseConfig(), parseCollectFlags(t, "--keywords-file", filepath.Join(t.TempDir(), "nope.yaml")))
		assert.Error(t, err)
	})
}

func TestResolveCollect_FallsBackToDefaultKeywords(t *testing.T) {
	c := baseConfig()
	c.Collect.Keywords = nil
	in, err := resolveCollect(c, parseCollectFlags(t))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultKeywords, in.Keywords)
}

func TestResolveCollect_RequiresCity(t *testing.T) {
	c := baseConfig()
	c.Collect.City = ""
	_, err := resolveCollect(c, parseCollectFlags(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "city is required")
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, &model.RunSummary{RunID: "r1", UniqueRecords: 4}))

	var got model.RunSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, 4, got.UniqueRecords)

	buf.Reset()
	require.NoError(t, writeSummary(&buf, nil))
	assert.Empty(t, buf.String())
}
