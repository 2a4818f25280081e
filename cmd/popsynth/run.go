package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/colasanti-lab/popsynth/internal/config"
	"github.com/colasanti-lab/popsynth/internal/diagnostics"
	"github.com/colasanti-lab/popsynth/internal/ingest"
	"github.com/colasanti-lab/popsynth/internal/metrics"
	"github.com/colasanti-lab/popsynth/internal/obslog"
	"github.com/colasanti-lab/popsynth/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Run a population synthesis pass",
	Long:  `Loads a tuning config and a self-contained input bundle, runs the fit/integerize/select/place pipeline over every area of interest, and writes household and person CSVs.`,
	RunE:  runPopsynth,
}

func init() {
	runCmd.Flags().String("config", "", "path to tuning config JSON (defaults applied for anything omitted)")
	runCmd.Flags().String("input", "", "path to input bundle JSON (required)")
	runCmd.Flags().String("households-out", "households.csv", "output path for the households CSV")
	runCmd.Flags().String("persons-out", "persons.csv", "output path for the persons CSV")
	runCmd.Flags().Bool("metrics", false, "serve Prometheus metrics on --metrics-addr while the run executes")
	runCmd.Flags().String("metrics-addr", ":9090", "address to serve /metrics on")
	runCmd.Flags().String("log-format", "text", "log format: text or json")
	runCmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	runCmd.Flags().String("convergence-plot", "", "optional PNG path to render a per-area convergence chart to after the run")
}

func runPopsynth(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	inputPath, _ := cmd.Flags().GetString("input")
	if inputPath == "" {
		return fmt.Errorf("--input flag is required")
	}
	householdsOut, _ := cmd.Flags().GetString("households-out")
	personsOut, _ := cmd.Flags().GetString("persons-out")
	useMetrics, _ := cmd.Flags().GetBool("metrics")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	logFormat, _ := cmd.Flags().GetString("log-format")
	logLevel, _ := cmd.Flags().GetString("log-level")
	convergencePlot, _ := cmd.Flags().GetString("convergence-plot")

	logger := obslog.New(obslog.Config{
		Level:  obslog.Level(logLevel),
		Format: obslog.Format(logFormat),
		Output: os.Stdout,
	})

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("loading input bundle")
	bundle, err := ingest.Load(inputPath)
	if err != nil {
		return err
	}
	built, err := bundle.Build()
	if err != nil {
		return err
	}

	var reg *metrics.Registry
	if useMetrics {
		reg = metrics.NewRegistry()
		server := &http.Server{Addr: metricsAddr, Handler: reg.Handler()}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", err)
			}
		}()
		logger.Info("serving metrics on " + metricsAddr)
	}

	orch := orchestrator.New(built.Schema, built.Globals, built.Marginals, built.Joint, built.Micro, built.Polygons, cfg, logger)
	if reg != nil {
		orch.Metrics = reg
	}

	logger.Info("starting run")
	result, err := orch.Run(context.Background())
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	for _, fail := range result.Report.SoftFailures {
		logger.Warn(fail.String())
	}
	logger.Info(fmt.Sprintf("run complete: %d households, %d persons, %d soft failures",
		len(result.Households), len(result.Persons), len(result.Report.SoftFailures)))

	if err := writeHouseholds(householdsOut, result.Households, built.Schema.Variables); err != nil {
		return err
	}
	if err := writePersons(personsOut, result.Persons); err != nil {
		return err
	}

	if convergencePlot != "" {
		points := make([]diagnostics.AreaIterations, len(result.Report.Convergence))
		for i, c := range result.Report.Convergence {
			points[i] = diagnostics.AreaIterations{Area: c.Area, Iterations: c.Iterations, Converged: c.Converged}
		}
		if err := diagnostics.ConvergenceChart(points, convergencePlot); err != nil {
			return err
		}
		logger.Info("wrote convergence chart to " + convergencePlot)
	}
	return nil
}

// writeHouseholds writes one row per synthesized household: serial,
// area, placed coordinate, then one column per fitting variable in
// schema order.
func writeHouseholds(path string, households []orchestrator.HouseholdRecord, variables []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := append([]string{"hh_serial", "area", "lon", "lat"}, variables...)
	if err := w.Write(header); err != nil {
		return err
	}

	for _, hh := range households {
		row := []string{
			strconv.FormatUint(hh.HHSerial, 10),
			hh.Area,
			strconv.FormatFloat(hh.Lon, 'f', -1, 64),
			strconv.FormatFloat(hh.Lat, 'f', -1, 64),
		}
		for _, v := range variables {
			row = append(row, strconv.Itoa(hh.Attrs[v]))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// writePersons writes one row per synthesized person: the owning
// household's serial and area, then every person attribute key in
// sorted order so column order is stable across rows.
func writePersons(path string, persons []orchestrator.PersonRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	keys := personAttrKeys(persons)
	header := append([]string{"hh_serial", "area"}, keys...)
	if err := w.Write(header); err != nil {
		return err
	}

	for _, p := range persons {
		row := []string{
			strconv.FormatUint(p.HHSerial, 10),
			p.Area,
		}
		for _, k := range keys {
			row = append(row, p.PersonAttrs[k])
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

func personAttrKeys(persons []orchestrator.PersonRecord) []string {
	seen := make(map[string]struct{})
	for _, p := range persons {
		for k := range p.PersonAttrs {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
