package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Staticpast/ModeManager/internal/sim/model"
)

type Config struct {
	Enabled bool `yaml:"enabled"`
	Debug   bool `yaml:"debug"`

	ModeSwitching ModeSwitching `yaml:"mode-switching"`
	Inventories   Inventories   `yaml:"inventories"`
	Protection    Protection    `yaml:"protection"`
	Storage       Storage       `yaml:"storage"`
	Engine        Engine        `yaml:"engine"`

	// Filled by Normalize.
	DefaultMode model.Mode `yaml:"-"`
	Warnings    []string   `yaml:"-"`
}

type ModeSwitching struct {
	DefaultMode      string `yaml:"default-mode"`
	CooldownSeconds  int    `yaml:"cooldown-seconds"`
	BroadcastChanges bool   `yaml:"broadcast-changes"`
}

type Inventories struct {
	SaveArmor          bool `yaml:"save-armor-contents"`
	SaveOffHand        bool `yaml:"save-offhand-items"`
	SeparateEnderChest bool `yaml:"separate-ender-chest"`
	ClearOnCreative    bool `yaml:"clear-on-creative"`
}

type Protection struct {
	TrackBlocks                 bool `yaml:"track-creative-blocks"`
	TrackItemFrames             bool `yaml:"track-creative-item-frames"`
	PreventContainerBlocks      bool `yaml:"prevent-creative-container-blocks"`
	PreventContainerInteraction bool `yaml:"prevent-creative-container-interaction"`
	PreventDrops                bool `yaml:"prevent-creative-drops"`
	PreventMobSpawning          bool `yaml:"prevent-creative-mob-spawning"`
	PreserveInventoryOnDeath    bool `yaml:"preserve-creative-inventory-on-death"`

	RestrictedEntityTypes RestrictionSet   `yaml:"restricted-entity-types"`
	RestrictItems         ItemRestrictions `yaml:"restrict-creative-items"`
	ContainerTypes        RestrictionSet   `yaml:"container-types"`
}

type ItemRestrictions struct {
	Enabled         bool           `yaml:"enabled"`
	RestrictedItems RestrictionSet `yaml:"restricted-items"`
}

type Storage struct {
	AutosaveSeconds int `yaml:"autosave-seconds"`
}

type Engine struct {
	TickRateHz               int `yaml:"tick-rate-hz"`
	RespawnRestoreDelayTicks int `yaml:"respawn-restore-delay-ticks"`
	FrameCheckDelayTicks     int `yaml:"frame-check-delay-ticks"`
}

// DefaultContainerTypes are the block types treated as containers.
var DefaultContainerTypes = []string{
	"CHEST", "TRAPPED_CHEST", "ENDER_CHEST", "BARREL", "SHULKER_BOX", "*_SHULKER_BOX",
	"FURNACE", "BLAST_FURNACE", "SMOKER", "DISPENSER", "DROPPER", "HOPPER",
	"BREWING_STAND", "LECTERN", "COMPOSTER",
	"CAULDRON", "LAVA_CAULDRON", "WATER_CAULDRON", "POWDER_SNOW_CAULDRON",
	"BEEHIVE", "BEE_NEST", "CAMPFIRE", "SOUL_CAMPFIRE", "JUKEBOX",
}

var defaultRestrictedItems = []string{
	"TNT", "TNT_MINECART", "END_CRYSTAL", "LAVA_BUCKET", "BEDROCK",
	"COMMAND_BLOCK", "CHAIN_COMMAND_BLOCK", "REPEATING_COMMAND_BLOCK", "COMMAND_BLOCK_MINECART",
	"STRUCTURE_BLOCK", "JIGSAW", "BARRIER", "SPAWNER", "DRAGON_EGG",
}

func Defaults() Config {
	cfg := Config{
		Enabled: true,
		ModeSwitching: ModeSwitching{
			DefaultMode:     string(model.Survival),
			CooldownSeconds: 30,
		},
		Inventories: Inventories{
			SaveArmor:          true,
			SaveOffHand:        true,
			SeparateEnderChest: true,
			ClearOnCreative:    true,
		},
		Protection: Protection{
			TrackBlocks:                 true,
			TrackItemFrames:             true,
			PreventContainerBlocks:      true,
			PreventContainerInteraction: true,
			PreventDrops:                true,
			PreventMobSpawning:          true,
			PreserveInventoryOnDeath:    true,
			RestrictedEntityTypes:       AllKinds(),
			RestrictItems: ItemRestrictions{
				Enabled:         true,
				RestrictedItems: KindsOf(defaultRestrictedItems...),
			},
			ContainerTypes: KindsOf(DefaultContainerTypes...),
		},
		Storage: Storage{AutosaveSeconds: 300},
		Engine: Engine{
			TickRateHz:               20,
			RespawnRestoreDelayTicks: 1,
			FrameCheckDelayTicks:     1,
		},
	}
	cfg.Normalize()
	return cfg
}

// Load reads config.yaml over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}

// Normalize resolves every list and the default mode. Bad entries become
// Warnings rather than errors.
func (c *Config) Normalize() {
	c.Warnings = c.Warnings[:0]

	mode, err := model.ParseMode(c.ModeSwitching.DefaultMode)
	if err != nil {
		c.warnf("mode-switching.default-mode: %q is not a mode, using %s", c.ModeSwitching.DefaultMode, model.Survival)
		mode = model.Survival
	}
	c.DefaultMode = mode
	c.ModeSwitching.DefaultMode = string(mode)

	c.Warnings = append(c.Warnings, c.Protection.RestrictedEntityTypes.resolve("protection.restricted-entity-types", true)...)
	c.Warnings = append(c.Warnings, c.Protection.RestrictItems.RestrictedItems.resolve("protection.restrict-creative-items.restricted-items", false)...)
	c.Warnings = append(c.Warnings, c.Protection.ContainerTypes.resolve("protection.container-types", false)...)
}

func (c Config) Validate() error {
	if c.ModeSwitching.CooldownSeconds < 0 {
		return fmt.Errorf("mode-switching.cooldown-seconds must be >= 0")
	}
	if c.Engine.TickRateHz <= 0 || c.Engine.TickRateHz > 100 {
		return fmt.Errorf("engine.tick-rate-hz must be in 1..100")
	}
	if c.Engine.RespawnRestoreDelayTicks < 0 || c.Engine.FrameCheckDelayTicks < 0 {
		return fmt.Errorf("engine delays must be >= 0")
	}
	if c.Storage.AutosaveSeconds < 0 {
		return fmt.Errorf("storage.autosave-seconds must be >= 0")
	}
	return nil
}

func (c Config) Cooldown() time.Duration {
	return time.Duration(c.ModeSwitching.CooldownSeconds) * time.Second
}

func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Engine.TickRateHz)
}

func (c Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Storage.AutosaveSeconds) * time.Second
}

// IsContainer reports whether a block type is protected as a container.
func (c Config) IsContainer(blockType string) bool {
	return c.Protection.ContainerTypes.Contains(blockType)
}

func (c Config) IsRestrictedItem(itemType string) bool {
	return c.Protection.RestrictItems.Enabled && c.Protection.RestrictItems.RestrictedItems.Contains(itemType)
}

func (c Config) IsRestrictedEntity(entityType string) bool {
	return c.Protection.RestrictedEntityTypes.Contains(entityType)
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
