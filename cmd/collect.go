package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/config"
	"github.com/suphelp/geo-cli/internal/export"
	"github.com/suphelp/geo-cli/internal/metrics"
	"github.com/suphelp/geo-cli/internal/model"
	"github.com/suphelp/geo-cli/internal/pipeline"
	"github.com/suphelp/geo-cli/internal/store"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Search places for a set of keywords and export the results",
	Example: `  geo-cli collect --city "Jundiaí - SP, Brasil" --keywords "condomínio,residencial"
  geo-cli collect --keywords-file presets/condominios.yaml --enrich --format csv,xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		in, err := resolveCollect(cfg, cmd.Flags())
		if err != nil {
			return err
		}
		if err := cfg.Validate("collect"); err != nil {
			return err
		}

		noStore, _ := cmd.Flags().GetBool("no-store")
		var st store.Store
		if !noStore {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
		}
		env := &pipelineEnv{Store: st}
		defer env.Close()

		env.Pipeline, err = buildPipeline(cfg, st, export.New(exportOptions(cfg.Export)), in.RunID)
		if err != nil {
			return err
		}

		summary, runErr := env.Pipeline.Run(ctx, in)
		if err := writeSummary(cmd.OutOrStdout(), summary); err != nil {
			zap.L().Warn("write summary failed", zap.Error(err))
		}
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			zap.L().Warn("write metrics textfile failed", zap.Error(err))
		}
		return runErr
	},
}

// resolveCollect applies the collect flags over c and builds the run input.
// Precedence: explicit flags, then the keywords file, then configuration.
func resolveCollect(c *config.Config, flags *pflag.FlagSet) (pipeline.RunInput, error) {
	in := pipeline.RunInput{
		RunID:             uuid.NewString(),
		LocationQualifier: c.Collect.City,
		Category:          c.Collect.Category,
		Keywords:          c.Collect.Keywords,
	}

	if path, _ := flags.GetString("keywords-file"); path != "" {
		preset, err := config.LoadKeywordsFile(path)
		if err != nil {
			return in, err
		}
		in.Keywords = preset.Keywords
		if preset.City != "" {
			in.LocationQualifier = preset.City
		}
		if preset.Category != "" {
			in.Category = preset.Category
		}
	}
	if flags.Changed("keywords") {
		raw, _ := flags.GetString("keywords")
		in.Keywords = config.SplitKeywords(raw)
	}
	if flags.Changed("city") {
		in.LocationQualifier, _ = flags.GetString("city")
	}
	if flags.Changed("category") {
		in.Category, _ = flags.GetString("category")
	}
	if len(in.Keywords) == 0 {
		in.Keywords = config.DefaultKeywords
	}
	if in.LocationQualifier == "" {
		return in, eris.New("collect: a city is required (--city or collect.city)")
	}

	if flags.Changed("enrich") {
		c.Enrich.Enabled, _ = flags.GetBool("enrich")
	}
	in.Enrich = c.Enrich.Enabled

	if flags.Changed("max-pages") {
		c.Places.MaxPages, _ = flags.GetInt("max-pages")
	}
	if flags.Changed("page-size") {
		c.Places.PageSize, _ = flags.GetInt("page-size")
	}
	if flags.Changed("bias-lat") {
		v, _ := flags.GetFloat64("bias-lat")
		c.Places.BiasLat = &v
	}
	if flags.Changed("bias-lng") {
		v, _ := flags.GetFloat64("bias-lng")
		c.Places.BiasLng = &v
	}
	if flags.Changed("bias-radius-m") {
		c.Places.BiasRadiusM, _ = flags.GetFloat64("bias-radius-m")
	}

	if flags.Changed("output") {
		c.Export.Dir, _ = flags.GetString("output")
	}
	if flags.Changed("format") {
		raw, _ := flags.GetString("format")
		c.Export.Formats = config.SplitKeywords(raw)
	}
	if flags.Changed("csv-pop") {
		c.Export.PopulationCSV, _ = flags.GetString("csv-pop")
	}
	if flags.Changed("min-pop") {
		c.Export.MinPopulation, _ = flags.GetInt("min-pop")
	}

	in.ExportStem = export.Stem(in.Category, in.LocationQualifier)
	return in, nil
}

// writeSummary prints the run summary as indented JSON.
func writeSummary(out io.Writer, summary *model.RunSummary) error {
	if summary == nil {
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(summary), "encode summary")
}

func addCollectFlags(f *pflag.FlagSet) {
	f.String("city", "", "location qualifier appended to every keyword (default from config)")
	f.String("keywords", "", "comma-separated keywords")
	f.String("keywords-file", "", "YAML keyword preset (list or {city, category, keywords})")
	f.String("category", "", "category label stored with each place")
	f.Bool("enrich", false, "look up registry contact data for each place")
	f.Int("max-pages", 0, "maximum result pages per keyword")
	f.Int("page-size", 0, "results per page (1-20)")
	f.Float64("bias-lat", 0, "location bias center latitude")
	f.Float64("bias-lng", 0, "location bias center longitude")
	f.Float64("bias-radius-m", 0, "location bias radius in meters")
	f.StringP("output", "o", "", "export directory")
	f.String("format", "", "comma-separated export formats (csv, xlsx)")
	f.Bool("no-store", false, "skip the database and only export")
	f.String("csv-pop", "", "population CSV to merge by place name")
	f.Int("min-pop", 0, "minimum population for the filtered export")
}

func init() {
	addCollectFlags(collectCmd.Flags())
	rootCmd.AddCommand(collectCmd)
}
