package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/cognicore/sigmalens/pkg/sigmalens/report"
	"github.com/cognicore/sigmalens/pkg/sigmalens/store/sqlite"
)

func main() {
	var (
		dbPath = flag.String("db", "", "SQLite database with persisted runs (required)")
		runID  = flag.String("id", "", "Optional: show one run in full")
		limit  = flag.Int("limit", 20, "Maximum runs to list")
	)
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("--db required")
	}

	ctx := context.Background()

	st, err := sqlite.Open(ctx, *dbPath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer st.Close()

	if *runID != "" {
		run, err := st.GetRun(ctx, *runID)
		if err != nil {
			log.Fatal("Failed to load run:", err)
		}
		rep, err := report.New().Build(run.Words, run.Sigma)
		if err != nil {
			log.Fatal("Failed to build report:", err)
		}
		fmt.Printf("run %s  created %s  loss %.4f  r %.4g  scale %.4g\n",
			run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"), run.FinalLoss,
			run.Regularization, run.Scale)
		fmt.Print(rep.Render())
		return
	}

	runs, err := st.ListRuns(ctx, *limit)
	if err != nil {
		log.Fatal("Failed to list runs:", err)
	}
	for _, run := range runs {
		fmt.Printf("%s  %s  tokens=%d  iters=%d  loss=%.4f\n",
			run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"),
			len(run.Sigma), run.Iterations, run.FinalLoss)
	}
}
