package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"vibe-apps-miner/internal/adapter/github"
	"vibe-apps-miner/internal/adapter/httpsource"
	"vibe-apps-miner/internal/adapter/normalizer"
	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/config"
	"vibe-apps-miner/internal/port"
)

// Checks one source: fetches its first page only and prints what the
// normalizer makes of each record. Nothing is written to the database.
func main() {
	configPath := flag.String("config", "", "TOML file overriding the built-in sources")
	source := flag.String("source", "lovable_community", "source to check")
	showRaw := flag.Bool("raw", false, "print raw records as well")
	flag.Parse()

	common.SetupLogger(true)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}
	src, ok := cfg.Source(*source)
	if !ok {
		log.Fatalf("❌ unknown source %q", *source)
	}
	if missing := src.MissingEnv(); len(missing) > 0 {
		log.Fatalf("❌ %s needs %v", src.Name, missing)
	}

	var fetcher port.Fetcher
	if src.Kind == config.KindHTTP {
		fetcher = httpsource.New(src)
	} else {
		fetcher = github.NewSearcher(github.NewClient(cfg.GitHubToken, src.RateLimit.Timeout.Std()), src)
	}
	norm := normalizer.New(normalizer.MappingFor(src))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("🔍 Probing %s (%s)\n", src.Name, src.Kind)
	for page, err := range fetcher.Pages(ctx) {
		if err != nil {
			log.Printf("❌ fetch failed: %v", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Page %d: %d records\n", page.Number, len(page.Records))

		kept := 0
		for i, raw := range page.Records {
			if *showRaw {
				fmt.Printf("\n--- raw %d ---\n%s\n", i+1, raw)
			}
			rec, ok := norm.Normalize(raw)
			if !ok {
				fmt.Printf("⏭️  record %d dropped: no title or URL\n", i+1)
				continue
			}
			kept++
			rec.Raw = nil
			out, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Printf("%d. %s\n", i+1, out)
		}
		fmt.Printf("\n📊 %d of %d records normalized\n", kept, len(page.Records))
		break
	}
}
