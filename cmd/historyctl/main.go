package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"ppemonitor/internal/config"
	"ppemonitor/internal/dto"
	"ppemonitor/internal/repository/sqlite"
)

// historyctl inspects and maintains the verdict history database without
// going through the HTTP API.
func main() {
	var (
		violations = flag.Bool("violations", false, "list only non-compliant verdicts")
		limit      = flag.Int("limit", 50, "maximum records to list")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: historyctl [flags] <list|stats|clear>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", cfg.DBPath, err)
	}
	defer db.Close()

	repo := sqlite.NewHistoryRepository(db, cfg.HistoryLimit)

	switch flag.Arg(0) {
	case "list":
		records, err := repo.Recent(&dto.HistoryFilters{OnlyViolations: *violations, Limit: *limit})
		if err != nil {
			log.Fatalf("Failed to list history: %v", err)
		}
		for _, r := range records {
			verdict := "compliant"
			if !r.IsCompliant {
				verdict = "violation (missing: " + r.Missing + ")"
			}
			fmt.Printf("%6d  %s  %s  rate=%.2f  %s\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.SessionID, r.CompletionRate, verdict)
		}

	case "stats":
		stats, err := repo.Stats()
		if err != nil {
			log.Fatalf("Failed to read stats: %v", err)
		}
		fmt.Printf("Records:    %d\n", stats.TotalRecords)
		fmt.Printf("Violations: %d\n", stats.Violations)
		for class, n := range stats.MissingCounts {
			fmt.Printf("  missing %-10s %d\n", class, n)
		}

	case "clear":
		if err := repo.DeleteAll(); err != nil {
			log.Fatalf("Failed to clear history: %v", err)
		}
		fmt.Println("History cleared")

	default:
		flag.Usage()
		os.Exit(2)
	}
}
