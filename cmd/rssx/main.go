package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ncss-tech/RSS-Export/internal/catalog"
	"github.com/ncss-tech/RSS-Export/internal/config"
	"github.com/ncss-tech/RSS-Export/internal/extract"
	"github.com/ncss-tech/RSS-Export/internal/importer"
	"github.com/ncss-tech/RSS-Export/internal/interp"
	"github.com/ncss-tech/RSS-Export/internal/provenance"
	"github.com/ncss-tech/RSS-Export/internal/relate"
	"github.com/ncss-tech/RSS-Export/internal/store"
)

const toolVersion = "1.2"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rssx",
		Short:         "Load SSURGO flat-file exports into an RSS database",
		Version:       toolVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildCmd())
	return root
}

func buildCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Import the tabular extracts, build relationships and indices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(cfgPath)
			applyFlags(cmd.Flags(), &cfg)
			return runBuild(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfgPath, "config", "rssx.yaml", "path to config YAML")
	f.String("db", "", "Postgres URL of the pre-created target schema")
	f.String("input", "", "root directory of the SSURGO downloads")
	f.String("metadata", "", "directory with the versioned md_*.csv lists")
	f.String("state", "", "state abbreviation, used in the run summary")
	f.Int("fy", 0, "fiscal year of publication")
	f.String("generation", "", "gSSURGO data model generation (1.0 or 2.0)")
	f.Bool("light", false, "keep only top-level interpretations plus NCCPI rules")
	f.Int("workers", 0, "accumulating-mode import parallelism")
	f.Int("min-tables", 0, "minimum table count expected from the schema builder")
	f.String("log-level", "", "zerolog level")
	return cmd
}

func applyFlags(f *pflag.FlagSet, cfg *config.Config) {
	if f.Changed("db") {
		cfg.DBURL, _ = f.GetString("db")
	}
	if f.Changed("input") {
		cfg.InputDir, _ = f.GetString("input")
	}
	if f.Changed("metadata") {
		cfg.MetadataDir, _ = f.GetString("metadata")
	}
	if f.Changed("state") {
		cfg.State, _ = f.GetString("state")
	}
	if f.Changed("fy") {
		cfg.FiscalYear, _ = f.GetInt("fy")
	}
	if f.Changed("generation") {
		cfg.Generation, _ = f.GetString("generation")
	}
	if f.Changed("light") {
		cfg.Light, _ = f.GetBool("light")
	}
	if f.Changed("workers") {
		cfg.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("min-tables") {
		cfg.MinTables, _ = f.GetInt("min-tables")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func runBuild(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DBURL == "" {
		return fmt.Errorf("no database URL configured")
	}
	if cfg.InputDir == "" {
		return fmt.Errorf("no input directory configured")
	}

	runID := provenance.NewRunID()
	log.Info().Str("run", runID).Str("tool", toolVersion).
		Str("generation", cfg.Generation).Str("state", cfg.State).
		Msg("creating RSS database")

	db, err := store.Open(cfg.DBURL)
	if err != nil {
		log.Error().Err(err).Msg("opening target store")
		return err
	}
	defer db.Close()
	st := store.New(db, log)

	if err := build(ctx, st, cfg, runID, log); err != nil {
		log.Error().Err(err).Msg("build failed")
		return err
	}
	log.Info().Str("run", runID).Msg("RSS database was successfully created")
	return nil
}

// build runs the whole load: catalog, bulk import, provenance, migration for
// the 2.0 generation, then indices and relationships strictly after every
// import has completed.
func build(ctx context.Context, st *store.Store, cfg config.Config, runID string, log zerolog.Logger) error {
	if err := st.ExpectTables(ctx, cfg.MinTables); err != nil {
		return err
	}

	areas, err := importer.DiscoverAreas(cfg.InputDir)
	if err != nil {
		return err
	}
	log.Info().Strs("areas", areas).Msg("discovered survey area datasets")

	// the metadata registries are common to every download; read them from
	// the first area
	commonDir := importer.TabularDir(cfg.InputDir, areas[0])
	cat, err := catalog.Load(commonDir)
	if err != nil {
		return err
	}
	log.Info().Int("tables", len(cat)).Msg("loaded table catalog")

	eng := importer.New(st, cat, log)
	if err := eng.ImportCommon(ctx, commonDir); err != nil {
		return err
	}
	if err := eng.ImportSet(ctx, commonDir); err != nil {
		return err
	}

	gen2 := strings.HasPrefix(cfg.Generation, "2")
	tables := make([]string, 0, len(importer.SurveyAreaTables))
	for _, t := range importer.SurveyAreaTables {
		if gen2 && t == "sainterp" {
			continue // the migration engine owns sainterp in 2.0 builds
		}
		tables = append(tables, t)
	}
	if !gen2 {
		if _, err := eng.ImportCointerpLegacy(ctx, cfg.InputDir, areas); err != nil {
			return err
		}
	}
	if err := eng.ImportSurveyAreas(ctx, cfg.InputDir, areas, tables, cfg.Workers); err != nil {
		return err
	}

	dbv, err := st.ServerVersion(ctx)
	if err != nil {
		return err
	}
	info := provenance.Info{
		SSURGOVersion: provenance.ReadSSURGOVersion(commonDir),
		Generation:    cfg.Generation,
		DBVersion:     dbv,
		ToolVersion:   toolVersion,
		RunID:         runID,
	}
	if err := provenance.Record(ctx, st, info); err != nil {
		return err
	}

	changes := interp.NewChangeSet(cfg.MetadataDir, cfg.Generation, log)
	if gen2 {
		if err := changes.Apply(ctx, st, st, cat); err != nil {
			return err
		}
		m := interp.NewMigrator(log)
		seed, err := extract.ReadConfigCSV("interp", changes.ClassSeedPath())
		if err != nil {
			return err
		}
		if err := m.SeedClasses(seed); err != nil {
			return err
		}
		if _, err := m.MigrateCointerp(ctx, st, cfg.InputDir, areas, cfg.Light); err != nil {
			return err
		}
		if _, err := m.MigrateSainterp(ctx, st, cfg.InputDir, areas); err != nil {
			return err
		}
		if err := m.Flush(ctx, st); err != nil {
			return err
		}
	}

	indices, err := relate.LoadIndexList(changes.IndexInsertPath())
	if err != nil {
		return err
	}
	relate.BuildIndices(ctx, st, indices, log)

	if _, err := relate.BuildRelationships(ctx, st, st, log); err != nil {
		return err
	}
	return nil
}
