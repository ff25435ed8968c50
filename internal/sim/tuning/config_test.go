package tuning

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Staticpast/ModeManager/internal/sim/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load("../../../configs/config.yaml")
	if err != nil {
		t.Fatalf("load config.yaml: %v", err)
	}
	if len(cfg.Warnings) != 0 {
		t.Fatalf("sample config has warnings: %v", cfg.Warnings)
	}
	if cfg.DefaultMode != model.Survival || cfg.Cooldown() != 30*time.Second {
		t.Fatalf("default-mode=%s cooldown=%v", cfg.DefaultMode, cfg.Cooldown())
	}
}

func TestLoad_MissingKeysKeepDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "mode-switching:\n  cooldown-seconds: 5\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ModeSwitching.CooldownSeconds != 5 {
		t.Fatalf("cooldown=%d want 5", cfg.ModeSwitching.CooldownSeconds)
	}
	if !cfg.Inventories.ClearOnCreative || !cfg.Protection.TrackBlocks || !cfg.Enabled {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if !cfg.Protection.RestrictedEntityTypes.All() {
		t.Fatalf("restricted-entity-types should default to ALL")
	}
	if !cfg.IsContainer("CHEST") || !cfg.IsContainer("red_shulker_box") || cfg.IsContainer("STONE") {
		t.Fatalf("container defaults wrong")
	}
}

func TestLoad_InvalidDefaultModeFallsBack(t *testing.T) {
	cfg, err := Load(writeConfig(t, "mode-switching:\n  default-mode: ADVENTURE\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultMode != model.Survival {
		t.Fatalf("default mode=%s want SURVIVAL", cfg.DefaultMode)
	}
	if len(cfg.Warnings) != 1 {
		t.Fatalf("warnings=%v want 1", cfg.Warnings)
	}
}

func TestRestrictionSet_ListSkipsInvalid(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
protection:
  restricted-entity-types:
    - zombie
    - "minecraft:creeper"
    - "not an entity!"
  restrict-creative-items:
    restricted-items: [TNT, lava_bucket, "??"]
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IsRestrictedEntity("SKELETON") || !cfg.IsRestrictedEntity("ZOMBIE") || !cfg.IsRestrictedEntity("creeper") {
		t.Fatalf("entity set wrong: %v", cfg.Protection.RestrictedEntityTypes.Names())
	}
	if !cfg.IsRestrictedItem("LAVA_BUCKET") || cfg.IsRestrictedItem("BEDROCK") {
		t.Fatalf("item set wrong: %v", cfg.Protection.RestrictItems.RestrictedItems.Names())
	}
	if len(cfg.Warnings) != 2 {
		t.Fatalf("warnings=%v want 2", cfg.Warnings)
	}
}

func TestRestrictionSet_ScalarForms(t *testing.T) {
	cfg, err := Load(writeConfig(t, "protection:\n  restricted-entity-types: all\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsRestrictedEntity("ANYTHING") {
		t.Fatalf("ALL should match everything")
	}

	cfg, err = Load(writeConfig(t, "protection:\n  restricted-entity-types: zombies please\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Protection.RestrictedEntityTypes.All() || len(cfg.Warnings) != 1 {
		t.Fatalf("invalid scalar should fall back to ALL with a warning: %v", cfg.Warnings)
	}

	cfg, err = Load(writeConfig(t, "protection:\n  restrict-creative-items:\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IsRestrictedItem("TNT") {
		t.Fatalf("disabled item restrictions still match")
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []string{
		"mode-switching:\n  cooldown-seconds: -1\n",
		"engine:\n  tick-rate-hz: 0\n",
		"storage:\n  autosave-seconds: -5\n",
	}
	for _, body := range cases {
		_, err := Load(writeConfig(t, body))
		if err == nil || !strings.HasPrefix(err.Error(), "config.yaml:") {
			t.Fatalf("expected config.yaml error for %q, got %v", body, err)
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "mode-switching:\n  cooldown-seconds: 10\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	if err := Watch(ctx, p, log.New(io.Discard, "", 0), func(c Config) { got <- c }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := os.WriteFile(p, []byte("mode-switching:\n  cooldown-seconds: 45\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case c := <-got:
		if c.ModeSwitching.CooldownSeconds != 45 {
			t.Fatalf("cooldown=%d want 45", c.ModeSwitching.CooldownSeconds)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload observed")
	}
}
