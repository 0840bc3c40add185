// Command validate runs preflight checks against a pipeline definition
// without loading anything: the definition file itself, strategy resolution,
// the region polygon, source file group discovery, and a dry-run extraction
// of every discovered source file.
//
// Usage:
//
//	go run ./cmd/validate -config config.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/geofilter"
	"github.com/trafficgeo/accident-etl/internal/pipeline"
	"github.com/trafficgeo/accident-etl/internal/strategy"
)

// phase tracks pass/fail for one validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	configPath := flag.String("config", "config.json", "path to the pipeline definition file")
	flag.Parse()

	if code := run(*configPath); code != 0 {
		os.Exit(code)
	}
}

func run(configPath string) int {
	fmt.Println("=== Pipeline Definition Validation ===")
	fmt.Println()

	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	cfg, defPhase := validateDefinition(configPath)
	phases := []*phase{defPhase}

	var registry *strategy.Registry
	if cfg != nil {
		registry = strategy.NewDefaultRegistry(logger)
		phases = append(phases,
			validateStrategies(cfg, registry),
			validateRegion(ctx, cfg),
			validateGroups(ctx, cfg, registry, logger),
		)
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateDefinition(path string) (*config.Config, *phase) {
	p := &phase{name: "Phase 1: Definition File"}
	cfg, err := config.Load(path)
	if err != nil {
		p.errorf("%v", err)
		return nil, p
	}
	return cfg, p
}

func validateStrategies(cfg *config.Config, registry *strategy.Registry) *phase {
	p := &phase{name: "Phase 2: Strategy Resolution"}
	if err := registry.Validate(cfg); err != nil {
		p.errorf("%v", err)
	}
	return p
}

func validateRegion(ctx context.Context, cfg *config.Config) *phase {
	p := &phase{name: "Phase 3: Region Polygon"}
	region, err := geofilter.LoadRegion(ctx, cfg)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	if region == nil {
		fmt.Println("  Note: no polygon filter configured, records pass unfiltered")
		return p
	}
	fmt.Printf("  Region %q: %d vertices, EPSG:%d\n", region.Key, len(region.Poly.Ring), region.CRS)
	return p
}

func validateGroups(ctx context.Context, cfg *config.Config, registry *strategy.Registry, logger *slog.Logger) *phase {
	p := &phase{name: "Phase 4: Source Files (dry-run extraction)"}

	groups, err := pipeline.DiscoverGroups(cfg, logger)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	if len(groups) == 0 {
		p.errorf("no source file groups under %s", cfg.DataFolder)
		return p
	}

	files, records := 0, 0
	for _, g := range groups {
		for _, m := range g.Members {
			factory, err := registry.Extractor(m.Spec.Extractor)
			if err != nil {
				p.errorf("%s: %v", m.Path, err)
				continue
			}
			ex, err := factory(cfg, m.Spec)
			if err != nil {
				p.errorf("%s: %v", m.Path, err)
				continue
			}
			rs, err := ex.Extract(ctx, m.Path)
			if err != nil {
				p.errorf("%s: %v", m.Path, err)
				continue
			}
			if !rs.HasColumn(m.Spec.IDColumn) {
				p.errorf("%s: id column %q not present", m.Path, m.Spec.IDColumn)
			}
			files++
			records += rs.Len()
		}
	}
	fmt.Printf("  Groups: %d, files: %d, records: %d\n", len(groups), files, records)
	return p
}
