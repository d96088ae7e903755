package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"ruleengine/internal/cosmetic"
	"ruleengine/internal/engineconfig"
	"ruleengine/internal/reqmodel"
	"ruleengine/internal/rulestorage"

	"ruleengine"
)

func main() {
	configPath := flag.String("config", "", "path to engine config file (optional)")
	listFlag := flag.String("lists", "", "comma-separated filter list file paths")
	hostsMode := flag.Bool("hosts", false, "treat lists as hosts-file format")
	ignoreCosmetic := flag.Bool("ignore-cosmetic", false, "skip cosmetic rules while loading")
	matchURL := flag.String("url", "", "match an ad-hoc request URL and print the verdict")
	sourceURL := flag.String("source", "", "source_url for -url (defaults to -url itself)")
	cosmeticHost := flag.String("cosmetic", "", "print the cosmetic result for a hostname")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var cfg *engineconfig.Config
	if *configPath != "" {
		loaded, err := engineconfig.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		d := engineconfig.Default()
		cfg = &d
	}
	if *hostsMode {
		cfg.HostsMode = true
	}
	if *ignoreCosmetic {
		cfg.IgnoreCosmetic = true
	}

	storage := rulestorage.New()
	for i, path := range splitNonEmpty(*listFlag) {
		if err := storage.AddListFromFile(int32(i+1), path); err != nil {
			slog.Error("failed to read filter list", "path", path, "error", err)
			os.Exit(1)
		}
	}

	engine, err := ruleengine.NewEngine(storage, cfg, false)
	if err != nil {
		slog.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Warn("engine close error", "error", err)
		}
	}()

	fmt.Printf("rules loaded: %d\n", engine.RulesCount())

	if *matchURL != "" {
		src := *sourceURL
		if src == "" {
			src = *matchURL
		}
		req := reqmodel.New(*matchURL, src, reqmodel.TypeDocument, "")
		start := time.Now()
		result := engine.MatchRequest(req)
		fmt.Printf("match %s (%s): blocking=%v allowlisted=%v in %s\n",
			*matchURL, src, result.IsBlocking(), result.Allowlisted, time.Since(start))
	}

	if *cosmeticHost != "" {
		result := engine.GetCosmeticResult(*cosmeticHost, cosmetic.AllKinds)
		fmt.Printf("cosmetic %s: elemhide=%d css=%d js=%d html=%d\n",
			*cosmeticHost, len(result.ElementHide), len(result.CSS), len(result.JS), len(result.HTML))
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
