package main

import (
	"testing"

	"srtile/pkg/config"
)

func TestParamsFromConfigSplitsBudget(t *testing.T) {
	tests := []struct {
		name    string
		budget  int
		workers int
		want    int
	}{
		{"SingleWorker", 1 << 20, 1, 1 << 20},
		{"Shared", 1 << 20, 4, 1 << 18},
		{"Unbounded", 0, 8, 0},
		{"NeverZero", 3, 8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Runtime.MaxTileElements = tt.budget
			if got := paramsFromConfig(cfg, tt.workers).MaxTileElements; got != tt.want {
				t.Errorf("budget = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParamsFromConfigFixedSize(t *testing.T) {
	cfg := config.DefaultConfig()
	if paramsFromConfig(cfg, 1).KeepTileSize {
		t.Error("tile size must shrink by default")
	}
	cfg.Tiling.FixedSize = true
	if !paramsFromConfig(cfg, 1).KeepTileSize {
		t.Error("fixedSize was not applied")
	}
}
