package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"pagesentry/internal/bootstrap"
	"pagesentry/internal/config"
	"pagesentry/internal/instruction"
	"pagesentry/internal/logging"
	"pagesentry/internal/model"
	"pagesentry/internal/schema"
	"pagesentry/internal/scraper"
	"pagesentry/internal/selector"
	"pagesentry/internal/services"
	"pagesentry/internal/urladapt"
)

var (
	configPath string
	verbose    bool
	schemaPath string
	probe      bool
	save       bool
	interval   int
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "pagesentry",
		Short: "Inspect pages, generate extraction schemas and run them",
		Long: `pagesentry turns a page URL and a plain-language instruction into a
CSS extraction schema, test-scrapes it, and reports what it found.

Example:
  pagesentry validate "https://news.ycombinator.com" "get the top 10 stories with points"`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Path to config file (defaults are used when missing)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")

	validateCmd := &cobra.Command{
		Use:   "validate <url> <instruction>",
		Short: "Run the full validation pipeline for a monitoring task",
		Args:  cobra.ExactArgs(2),
		RunE:  runValidate,
	}
	validateCmd.Flags().BoolVar(&save, "save", false, "Persist the task as pending in the configured database")
	validateCmd.Flags().IntVar(&interval, "interval", 24, "Schedule interval in hours for a saved task")

	scrapeCmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Apply a JSON extraction schema to a live page",
		Args:  cobra.ExactArgs(1),
		RunE:  runScrape,
	}
	scrapeCmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "Path to a JSON extraction schema")
	_ = scrapeCmd.MarkFlagRequired("schema")

	parseCmd := &cobra.Command{
		Use:   "parse <instruction>",
		Short: "Show how an instruction is understood",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), instruction.Parse(strings.Join(args, " ")))
		},
	}

	adaptCmd := &cobra.Command{
		Use:   "adapt <url>",
		Short: "Show the scraping-friendly variant of a URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdapt,
	}
	adaptCmd.Flags().BoolVar(&probe, "probe", false, "Check candidate rewrites exist before picking one")

	detectCmd := &cobra.Command{
		Use:   "detect <url>",
		Short: "Find the repeating content on a page without AI",
		Args:  cobra.ExactArgs(1),
		RunE:  runDetect,
	}

	generateCmd := &cobra.Command{
		Use:   "generate <url> <instruction>",
		Short: "Ask the model for a schema without fetching the page",
		Args:  cobra.ExactArgs(2),
		RunE:  runGenerate,
	}

	rootCmd.AddCommand(validateCmd, scrapeCmd, parseCmd, adaptCmd, detectCmd, generateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	logCfg := cfg.Log
	if !verbose {
		logCfg.Level = "warn"
	}
	return cfg, logging.NewWithWriter(logCfg, os.Stderr, isatty.IsTerminal(os.Stderr.Fd())), nil
}

func build(cmd *cobra.Command, opts bootstrap.Options) (*bootstrap.Components, context.Context, context.CancelFunc, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	comps, err := bootstrap.Build(ctx, cfg, opts, logger)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return comps, ctx, cancel, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	comps, ctx, cancel, err := build(cmd, bootstrap.Options{MemoryStore: !save})
	if err != nil {
		return err
	}
	defer cancel()
	defer comps.Close()

	res := comps.Validator.Validate(ctx, &services.ValidationRequest{
		URL:                   args[0],
		Instruction:           args[1],
		ScheduleIntervalHours: interval,
	})
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Status == services.StatusError {
		return errors.New(strings.Join(res.Errors, "; "))
	}
	return nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	var s model.ExtractionSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}

	comps, ctx, cancel, err := build(cmd, bootstrap.Options{MemoryStore: true})
	if err != nil {
		return err
	}
	defer cancel()
	defer comps.Close()

	results, err := comps.Runner.Run(ctx, args[0], s)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"count": len(results), "data": results})
}

func runGenerate(cmd *cobra.Command, args []string) error {
	u, err := scraper.NormalizeURL(args[0])
	if err != nil {
		return err
	}
	comps, ctx, cancel, err := build(cmd, bootstrap.Options{MemoryStore: true})
	if err != nil {
		return err
	}
	defer cancel()
	defer comps.Close()

	out, err := comps.Generator.FromInstruction(ctx, u.String(), args[1])
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	return schema.Validate(&out.Schema)
}

func runAdapt(cmd *cobra.Command, args []string) error {
	u, err := scraper.NormalizeURL(args[0])
	if err != nil {
		return err
	}
	if !probe {
		return printJSON(cmd.OutOrStdout(), urladapt.Adapt(u.String()))
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	p := urladapt.NewProber(time.Duration(cfg.Scraper.ProbeTimeoutMs)*time.Millisecond, cfg.Scraper.UserAgent, logger)
	return printJSON(cmd.OutOrStdout(), p.FindWorkingURL(cmd.Context(), u.String()))
}

func runDetect(cmd *cobra.Command, args []string) error {
	comps, ctx, cancel, err := build(cmd, bootstrap.Options{MemoryStore: true})
	if err != nil {
		return err
	}
	defer cancel()
	defer comps.Close()

	page, err := comps.Fetcher.Fetch(ctx, scraper.BuildRequestFromOptions(scraper.RequestOptions{
		URL:       args[0],
		TimeoutMs: comps.Config.Scraper.TimeoutMs,
		UserAgent: comps.Config.Scraper.UserAgent,
	}))
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return err
	}
	det, ok := selector.AutoDetect(doc)
	if !ok {
		return errors.New("no repeating content pattern found on the page")
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"itemSelector": det.ItemSelector,
		"pattern":      det.Pattern,
		"itemCount":    det.Count,
		"schema":       det.Schema(),
		"records":      selector.CleanData(selector.Extract(doc, page.BaseURL(), det.Fields)),
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
