package params

import "testing"

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("EXEC_BUDGET", "7")
	t.Setenv("FEE_BPS", "25")
	t.Setenv("MIN_ORDER_SIZE", "5")
	t.Setenv("MIN_ORDER_SIZES", "0xb1:100, 0xc1:250, garbage, 0xd1:-3, 0xe1:x")
	t.Setenv("ALLOWED_POOLS", "0xa1 , 0xa2,")

	cfg := LoadFromEnv("")

	if cfg.Engine.ExecBudget != 7 {
		t.Fatalf("exec budget = %d, want 7", cfg.Engine.ExecBudget)
	}
	if cfg.Engine.FeeBps != 25 {
		t.Fatalf("fee bps = %d, want 25", cfg.Engine.FeeBps)
	}
	if cfg.Engine.DefaultMinOrder != 5 {
		t.Fatalf("default min order = %d, want 5", cfg.Engine.DefaultMinOrder)
	}
	if len(cfg.Engine.MinOrderSizes) != 2 {
		t.Fatalf("per-asset minimums = %v, want the two well-formed entries", cfg.Engine.MinOrderSizes)
	}
	if cfg.Engine.MinOrderSizes["0xb1"] != 100 || cfg.Engine.MinOrderSizes["0xc1"] != 250 {
		t.Fatalf("per-asset minimums = %v", cfg.Engine.MinOrderSizes)
	}
	if len(cfg.Engine.AllowedPools) != 2 || cfg.Engine.AllowedPools[0] != "0xa1" {
		t.Fatalf("allowed pools = %v", cfg.Engine.AllowedPools)
	}
}

func TestDefaultsWithoutEnv(t *testing.T) {
	t.Setenv("EXEC_BUDGET", "")
	t.Setenv("MIN_ORDER_SIZES", "")

	cfg := LoadFromEnv("")
	def := Default()
	if cfg.Engine.ExecBudget != def.Engine.ExecBudget {
		t.Fatalf("exec budget = %d, want default %d", cfg.Engine.ExecBudget, def.Engine.ExecBudget)
	}
	if cfg.Engine.MinOrderSizes != nil {
		t.Fatalf("per-asset minimums = %v, want none", cfg.Engine.MinOrderSizes)
	}
}
