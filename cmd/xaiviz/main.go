package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"xaiviz/internal/cfg"
	"xaiviz/internal/controller"
	"xaiviz/internal/dashboard"
	"xaiviz/internal/event"
	"xaiviz/internal/explain"
	"xaiviz/internal/loader"
	_ "xaiviz/internal/loader/gobcodec"
	"xaiviz/internal/metrics"
	"xaiviz/internal/store"
)

const barWidth = 40

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	m := metrics.New()
	mw := metrics.NewWrapper(m)
	bus := event.NewBus()

	var history *store.Store
	if c.DataPath != "" {
		history, err = store.Open(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("load history unavailable")
			history = nil
		} else {
			defer history.Close()
		}
	}

	var fetcher *loader.Fetcher
	if c.AllowRemote {
		fetcher = loader.NewFetcher(c.FetchTimeout)
	}
	ld := loader.New(fetcher, mw)

	ctrl := controller.New(ld,
		controller.WithBus(bus),
		controller.WithMetrics(mw),
		controller.WithHistory(history),
	)

	if c.DashboardPort > 0 {
		dash := dashboard.New(ctrl, bus, c.DashboardPort)
		if err := dash.Start(); err != nil {
			log.Warn().Err(err).Msg("dashboard unavailable")
		} else {
			defer dash.Stop()
			fmt.Printf("Dashboard: http://localhost:%d\n", c.DashboardPort)
		}
	}

	if c.ModelPath != "" {
		if schema, err := ctrl.LoadModel(c.ModelPath); err != nil {
			fmt.Printf("Initial load failed:\n%v\n", err)
		} else {
			fmt.Printf("Loaded %s (%d features)\n", c.ModelPath, len(schema))
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		runShell(ctrl, history, c)
	}()
	waitForShutdown(done)
}

// waitForShutdown blocks until the shell exits or a termination signal
// arrives, then returns to main so the deferred cleanup runs.
func waitForShutdown(done <-chan struct{}) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-done:
	case s := <-sig:
		fmt.Println("\nBye.")
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func runShell(ctrl *controller.Controller, history *store.Store, c cfg.Settings) {
	scanner := bufio.NewScanner(os.Stdin)
	printHelp()
	for {
		fmt.Print("xaiviz> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "load":
			cmdLoad(ctrl, args)
		case "predict":
			cmdPredict(ctrl, args)
		case "explain":
			cmdExplain(ctrl, args, c)
		case "features":
			cmdFeatures(ctrl)
		case "status":
			cmdStatus(ctrl)
		case "history":
			cmdHistory(history)
		case "help":
			printHelp()
		case "quit", "exit":
			fmt.Println("Bye.")
			return
		default:
			fmt.Printf("Unknown command %q; try 'help'.\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`Commands:
  load <path>           load a model artifact (pickle, joblib, gob, json)
  predict <v1,v2,...>   predict for a comma-separated feature vector
  explain <v1,v2,...>   explain a prediction with per-feature contributions
  features              show the active feature schema
  status                show the active model
  history               show recent loads
  help                  this text
  quit                  exit`)
}

func cmdLoad(ctrl *controller.Controller, args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: load <path>")
		return
	}
	schema, err := ctrl.LoadModel(args[0])
	if err != nil {
		fmt.Printf("Load failed:\n%v\n", err)
		return
	}
	active := ctrl.Active()
	fmt.Printf("Loaded via %s: %s model, %d features\n",
		active.Strategy, active.Adapter.ModelType(), len(schema))
}

func cmdPredict(ctrl *controller.Controller, args []string) {
	features, ok := parseVector(args)
	if !ok {
		return
	}
	pred, err := ctrl.Predict(features)
	if err != nil {
		fmt.Printf("Predict failed: %v\n", err)
		return
	}
	fmt.Printf("Prediction: %s\n", pred.Label)
	if len(pred.Probabilities) > 0 {
		for i, p := range pred.Probabilities {
			fmt.Printf("  class %d  %s %.4f\n", i, bar(p, 1), p)
		}
	}
}

func cmdExplain(ctrl *controller.Controller, args []string, c cfg.Settings) {
	if !ctrl.IsLoaded() {
		fmt.Println("No model loaded.")
		return
	}
	features, ok := parseVector(args)
	if !ok {
		return
	}
	ex, err := explain.New(ctrl.Adapter(), syntheticBackground(len(features), c.BackgroundSamples), c.Explainer)
	if err != nil {
		fmt.Printf("Explainer unavailable: %v\n", err)
		return
	}
	result, err := ex.Explain(features)
	if err != nil {
		fmt.Printf("Explain failed: %v\n", err)
		return
	}
	fmt.Printf("Method: %s, prediction: %s\n", result.Method, result.Prediction)
	maxMag := 0.0
	for _, con := range result.Contributions {
		if v := abs(con.Value); v > maxMag {
			maxMag = v
		}
	}
	for _, con := range result.Contributions {
		fmt.Printf("  %-24s %s %+.4f\n", con.Feature, bar(abs(con.Value), maxMag), con.Value)
	}
}

func cmdFeatures(ctrl *controller.Controller) {
	if !ctrl.IsLoaded() {
		fmt.Println("No model loaded.")
		return
	}
	for i, name := range ctrl.Schema() {
		fmt.Printf("  %2d  %s\n", i, name)
	}
}

func cmdStatus(ctrl *controller.Controller) {
	active := ctrl.Active()
	if active == nil {
		fmt.Println("No model loaded.")
		return
	}
	caps := active.Adapter.Capabilities()
	fmt.Printf("Artifact:       %s\n", active.Path)
	fmt.Printf("Strategy:       %s\n", active.Strategy)
	fmt.Printf("Type:           %s\n", caps.ModelType)
	fmt.Printf("Features:       %d\n", caps.Width)
	fmt.Printf("Probabilities:  %v\n", caps.SupportsProbability)
	fmt.Printf("Loaded at:      %s\n", active.LoadedAt.Format(time.RFC3339))
}

func cmdHistory(history *store.Store) {
	if history == nil {
		fmt.Println("History disabled (set XAIVIZ_DATA_PATH).")
		return
	}
	records, err := history.Recent(10)
	if err != nil {
		fmt.Printf("History unavailable: %v\n", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("No loads recorded yet.")
		return
	}
	for _, rec := range records {
		fmt.Printf("  %s  %-28s via %s (%s)\n",
			rec.LoadedAt.Format("2006-01-02 15:04:05"), rec.Path, rec.Strategy, rec.ModelType)
	}
}

func parseVector(args []string) ([]float64, bool) {
	if len(args) == 0 {
		fmt.Println("Usage: <command> <v1,v2,...>")
		return nil, false
	}
	raw := strings.Split(strings.Join(args, ""), ",")
	features := make([]float64, 0, len(raw))
	for _, field := range raw {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			fmt.Printf("Not a number: %q\n", field)
			return nil, false
		}
		features = append(features, v)
	}
	return features, true
}

// syntheticBackground produces reference rows for the permutation explainer
// when no real background data is available.
func syntheticBackground(width, samples int) [][]float64 {
	rng := rand.New(rand.NewSource(42))
	rows := make([][]float64, samples)
	for i := range rows {
		row := make([]float64, width)
		for j := range row {
			row[j] = rng.Float64()
		}
		rows[i] = row
	}
	return rows
}

func bar(v, max float64) string {
	if max <= 0 {
		max = 1
	}
	n := int(v / max * barWidth)
	if n > barWidth {
		n = barWidth
	}
	if n < 0 {
		n = 0
	}
	return strings.Repeat("#", n) + strings.Repeat(".", barWidth-n)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
