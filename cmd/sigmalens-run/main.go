package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/cognicore/sigmalens/pkg/sigmalens"
	"github.com/cognicore/sigmalens/pkg/sigmalens/config"
	"github.com/cognicore/sigmalens/pkg/sigmalens/corpus"
	"github.com/cognicore/sigmalens/pkg/sigmalens/phi/linear"
	"github.com/cognicore/sigmalens/pkg/sigmalens/store"
	"github.com/cognicore/sigmalens/pkg/sigmalens/store/sqlite"
)

func main() {
	var (
		inputPath  = flag.String("input", "", "JSONL file with the input sequence and words (required)")
		corpusPath = flag.String("corpus", "", "JSONL reference corpus for regularization estimation")
		weights    = flag.String("weights", "", "JSON file with per-token weights for the linear mapping (required)")
		configPath = flag.String("config", "", "Optional: YAML run configuration")
		dbPath     = flag.String("db", "", "Optional: SQLite database to persist the run")
		progress   = flag.Bool("progress", false, "Show a progress bar during optimization")
	)
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("--input required")
	}
	if *weights == "" {
		log.Fatal("--weights required")
	}

	ctx := context.Background()

	cfg := config.DefaultRun()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadRun(*configPath)
		if err != nil {
			log.Fatal("Failed to load configuration:", err)
		}
	}
	if *corpusPath == "" && cfg.Regularization <= 0 {
		log.Fatal("--corpus required unless the configuration sets a manual regularization")
	}

	tokens, words, err := corpus.LoadSample(*inputPath)
	if err != nil {
		log.Fatal("Failed to load input:", err)
	}

	w, err := loadWeights(*weights)
	if err != nil {
		log.Fatal("Failed to load weights:", err)
	}
	mapping, err := linear.New(w)
	if err != nil {
		log.Fatal("Failed to build mapping:", err)
	}

	var st store.Store
	if *dbPath != "" {
		st, err = sqlite.Open(ctx, *dbPath)
		if err != nil {
			log.Fatal("Failed to open database:", err)
		}
	}

	lens := sigmalens.New(sigmalens.Options{Config: cfg, Store: st})
	defer lens.Close()

	req := sigmalens.Request{
		Tokens:  tokens,
		Words:   words,
		Mapping: mapping,
	}
	if *corpusPath != "" {
		ref, err := corpus.LoadJSONL(*corpusPath)
		if err != nil {
			log.Fatal("Failed to load corpus:", err)
		}
		req.Corpus = ref
	}
	if *progress {
		bar := progressbar.Default(int64(cfg.Iterations), "optimizing")
		req.Progress = func(step int, loss float64) {
			_ = bar.Add(1)
		}
	}

	rep, err := lens.Interpret(ctx, req)
	if err != nil {
		log.Fatal("Interpretation failed:", err)
	}

	fmt.Printf("run %s\n", rep.ID)
	fmt.Print(rep.Render())
}

func loadWeights(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w []float64
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return w, nil
}
