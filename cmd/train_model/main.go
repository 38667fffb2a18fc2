package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"outbreakcast/config"
	"outbreakcast/db"
	"outbreakcast/logging"
	"outbreakcast/outbreak"
	"outbreakcast/pipeline"
)

type Globals struct {
	Config string `help:"Path to a YAML config file." type:"path" env:"OUTBREAK_CONFIG"`
}

// env is the shared state every subcommand runs with.
type env struct {
	ctx    context.Context
	cfg    config.Config
	logger *zap.Logger
}

func (e *env) openStore() (*db.Store, error) {
	store, err := db.Open(e.cfg.Database.Driver, e.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(e.ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

type TrainCmd struct {
	Country         []string `help:"Train only these countries (repeatable)."`
	MinObservations int      `help:"Override the minimum number of daily points." default:"-1"`
}

func (c *TrainCmd) Run(e *env) error {
	cases, err := e.openStore()
	if err != nil {
		return err
	}
	defer cases.Close()

	models, err := outbreak.NewFileStore(e.cfg.Models.Dir)
	if err != nil {
		return err
	}

	trainerCfg := e.cfg.TrainerConfig()
	if c.MinObservations >= 0 {
		trainerCfg.MinObservations = c.MinObservations
	}

	var source outbreak.HistorySource = cases
	if len(c.Country) > 0 {
		source = countryFilter{HistorySource: cases, countries: c.Country}
	}

	trainer := outbreak.NewTrainer(source, models, trainerCfg, e.logger)
	trainer.SetProgress(func(res outbreak.CountryResult) {
		rec := db.TrainingRecord{
			RunID:    res.RunID,
			Country:  res.Country,
			Outcome:  string(res.Outcome),
			RowsUsed: res.Rows,
			Message:  res.Message,
		}
		if err := cases.RecordTraining(e.ctx, rec); err != nil {
			e.logger.Warn("failed to record training result", zap.String("country", res.Country), zap.Error(err))
		}
	})

	report, err := trainer.Run(e.ctx)
	if report != nil {
		printReport(report)
	}
	return err
}

// countryFilter restricts a HistorySource to an explicit country list.
type countryFilter struct {
	outbreak.HistorySource
	countries []string
}

func (f countryFilter) Countries(ctx context.Context) ([]string, error) {
	return f.countries, nil
}

func printReport(report *outbreak.BatchReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COUNTRY\tOUTCOME\tPOINTS\tROWS\tDETAIL")
	for _, res := range report.Results {
		detail := res.Path
		if res.Message != "" {
			detail = res.Message
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", res.Country, res.Outcome, res.Points, res.Rows, detail)
	}
	w.Flush()

	counts := report.Counts()
	outcomes := make([]string, 0, len(counts))
	for outcome := range counts {
		outcomes = append(outcomes, string(outcome))
	}
	sort.Strings(outcomes)
	fmt.Printf("\nrun %s finished in %s\n", report.RunID, report.Finished.Sub(report.Started).Round(time.Millisecond))
	for _, outcome := range outcomes {
		fmt.Printf("  %-30s %d\n", outcome, counts[outbreak.TrainOutcome(outcome)])
	}
}

type ImportCmd struct {
	File string `arg:"" help:"Case history JSON file ('-' for stdin)."`
}

func (c *ImportCmd) Run(e *env) error {
	cases, err := e.openStore()
	if err != nil {
		return err
	}
	defer cases.Close()

	in := os.Stdin
	if c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	ingester := pipeline.NewDataIngester(cases, pipeline.NewDataCleaner(e.logger), e.logger)
	result, err := ingester.Ingest(e.ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("countries=%d stored=%d rejected=%d\n", result.Countries, result.Stored, result.Rejected)
	for _, issue := range result.Issues {
		fmt.Printf("  [%s] %s %s: %s\n", issue.Severity, issue.Country, issue.Type, issue.Message)
	}
	return nil
}

type PredictCmd struct {
	Country string  `arg:"" help:"Country name."`
	Current float64 `arg:"" help:"Current 7-day average of new cases."`
	Lag7    float64 `arg:"" help:"7-day average one week ago."`
	Lag14   float64 `arg:"" help:"7-day average two weeks ago."`
}

func (c *PredictCmd) Run(e *env) error {
	models, err := outbreak.NewFileStore(e.cfg.Models.Dir)
	if err != nil {
		return err
	}
	predictor, err := outbreak.NewPredictor(models, e.cfg.PredictorConfig(), e.logger)
	if err != nil {
		return err
	}
	verdict, err := predictor.Predict(c.Country, c.Current, c.Lag7, c.Lag14)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(verdict)
}

type HistoryCmd struct {
	Limit int `help:"Number of rows to show." default:"20"`
}

func (c *HistoryCmd) Run(e *env) error {
	cases, err := e.openStore()
	if err != nil {
		return err
	}
	defer cases.Close()

	records, err := cases.RecentTraining(e.ctx, c.Limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRAINED AT\tRUN\tCOUNTRY\tOUTCOME\tROWS")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			rec.TrainedAt.Format("2006-01-02 15:04:05"), rec.RunID, rec.Country, rec.Outcome, rec.RowsUsed)
	}
	return w.Flush()
}

var cli struct {
	Globals

	Train   TrainCmd   `cmd:"" help:"Train one model per country from the case history database."`
	Import  ImportCmd  `cmd:"" help:"Import case histories into the database."`
	Predict PredictCmd `cmd:"" help:"Predict for one country using the trained models."`
	History HistoryCmd `cmd:"" help:"Show recent training results."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("train_model"),
		kong.Description("Offline training and data tools for outbreakcast."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load(cli.Config)
	kctx.FatalIfErrorf(err)

	logger, err := logging.New(cfg.Log)
	kctx.FatalIfErrorf(err)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = kctx.Run(&env{ctx: ctx, cfg: cfg, logger: logger})
	if err != nil {
		logger.Error("command failed", zap.String("command", kctx.Command()), zap.Error(err))
	}
	kctx.FatalIfErrorf(err)
}
