package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tgnlab/whatif/internal/config"
	"github.com/tgnlab/whatif/internal/evaluation"
	"github.com/tgnlab/whatif/internal/logger"
	"github.com/tgnlab/whatif/internal/oracle"
	"github.com/tgnlab/whatif/internal/search"
	"github.com/tgnlab/whatif/internal/selection"
)

var (
	explainEvents []int
	scoresFile    string
	strategyFlag  string
)

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain predictions with counterfactual examples",
	Long: `Explain one or more predictions by searching for counterfactual examples.

The oracle is replayed from a scripted scores file (YAML), so the search can
be exercised and inspected without a live model. A production caller wires
its own oracle through the library instead.

Example:
  whatif explain --scores scores.yaml --event 42 --event 57`,
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().IntSliceVarP(&explainEvents, "event", "e", nil, "Event id to explain (repeatable, required)")
	explainCmd.Flags().StringVarP(&scoresFile, "scores", "s", "", "Scripted scores file for the replay oracle (required)")
	explainCmd.Flags().StringVar(&strategyFlag, "strategy", "", "Override search strategy (greedy, batch, cody)")
	_ = explainCmd.MarkFlagRequired("event")
	_ = explainCmd.MarkFlagRequired("scores")
	rootCmd.AddCommand(explainCmd)
}

// scoresFixture is the on-disk shape of a replay scores file.
type scoresFixture struct {
	Events []oracle.ReplayEvent `yaml:"events"`
}

// explainOutput is the JSON the command writes per explained event.
type explainOutput struct {
	EventID                  int       `json:"event_id"`
	OriginalPrediction       float64   `json:"original_prediction"`
	CounterfactualPrediction float64   `json:"counterfactual_prediction"`
	Achieved                 bool      `json:"achieves_counterfactual_explanation"`
	EventIDs                 []int     `json:"cf_example_event_ids"`
	AbsoluteImportances      []float64 `json:"cf_example_event_importances"`
	OracleCalls              int       `json:"oracle_calls"`
	DurationMS               float64   `json:"duration_ms"`
}

func runExplain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strategyFlag != "" {
		cfg.Explainer.Strategy = strategyFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Explainer.Selection == "scored" {
		return fmt.Errorf("scored selection requires an external relevance model and is not available with a replayed oracle")
	}
	initLogging(cfg)

	fixture, err := loadScores(scoresFile)
	if err != nil {
		return err
	}
	replay := oracle.NewReplay(fixture.Events)

	var store evaluation.Store
	if cfg.Storage.Enabled {
		sqlStore, err := evaluation.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to open run store, continuing without persistence")
		} else {
			store = sqlStore
			defer func() { _ = sqlStore.Close() }()
		}
	}

	build := func(o oracle.Oracle) search.Explainer {
		return newExplainer(o, replay, cfg)
	}
	session, err := evaluation.NewSession(replay, cfg.Explainer.Strategy, build, store)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	encoder := json.NewEncoder(os.Stdout)
	for _, eventID := range explainEvents {
		result, err := session.Explain(eventID)
		if err != nil {
			return fmt.Errorf("explain event %d: %w", eventID, err)
		}
		out := explainOutput{
			EventID:                  eventID,
			OriginalPrediction:       result.OriginalPrediction,
			CounterfactualPrediction: result.CounterfactualPrediction,
			Achieved:                 result.AchievesCounterfactual,
			EventIDs:                 result.EventIDs,
			AbsoluteImportances:      result.AbsoluteImportances(),
			OracleCalls:              result.Metrics.OracleCalls,
			DurationMS:               float64(result.Metrics.TotalDuration.Microseconds()) / 1000,
		}
		if err := encoder.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

// newExplainer builds the configured search strategy around the given
// oracle. The replay fixture doubles as the subgraph generator.
func newExplainer(o oracle.Oracle, replay *oracle.Replay, cfg *config.Config) search.Explainer {
	searchCfg := search.Config{
		CandidatesSize: cfg.Explainer.CandidatesSize,
		SampleSize:     cfg.Explainer.SampleSize,
		MaxSteps:       cfg.Explainer.MaxSteps,
		Selection: selection.Params{
			Kind: selection.Kind(cfg.Explainer.Selection),
			Seed: cfg.Explainer.Seed,
		},
	}
	switch cfg.Explainer.Strategy {
	case "greedy":
		return search.NewGreedy(o, replay, searchCfg)
	case "batch":
		return search.NewBatchSearch(o, replay, searchCfg)
	default:
		return search.NewCoDy(o, replay, searchCfg)
	}
}

func loadScores(path string) (*scoresFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scores file: %w", err)
	}
	var fixture scoresFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse scores file %s: %w", path, err)
	}
	if len(fixture.Events) == 0 {
		return nil, fmt.Errorf("scores file %s contains no events", path)
	}
	return &fixture, nil
}

func loadConfig() (*config.Config, error) {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}
	if configFile != "" {
		return loader.LoadFromFile(configFile)
	}
	return loader.Load()
}

func initLogging(cfg *config.Config) {
	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else if cfg.Settings.LogLevel != "" {
		_ = logger.Init(cfg.Settings.LogLevel, cfg.Settings.LogFile)
	} else {
		logger.InitQuiet()
	}
}
