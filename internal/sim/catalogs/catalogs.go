package catalogs

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"

	"stellarcolony.ai/configs"
)

const (
	PolicyDivide   = "divide"
	PolicyMultiply = "multiply"

	EffectReset       = "reset"
	EffectAdvanceOnly = "advance_only"

	OrderCountdownFirst = "countdown_first"
	OrderFulfillFirst   = "fulfill_first"

	Easy   = "easy"
	Medium = "medium"
	Hard   = "hard"
)

// Requirement kinds for achievements. Any resource name is also accepted.
const (
	ReqManualClick        = "manual_click"
	ReqStructuresOwned    = "structures_owned"
	ReqStructureUpgrades  = "structure_upgrades"
	ReqProductionRate     = "production_rate"
	ReqContractsFulfilled = "contracts_fulfilled"
	ReqStage              = "stage"
)

// Catalog is the declarative description of one game variant.
type Catalog struct {
	Name             string `yaml:"name"`
	Title            string `yaml:"title"`
	ProductionPolicy string `yaml:"production_policy"`
	UpgradeCurrency  string `yaml:"upgrade_currency"`

	Resources  []ResourceDef      `yaml:"resources"`
	ClickPower map[string]float64 `yaml:"click_power"`
	Structures []StructureDef     `yaml:"structures"`

	Contracts    *ContractCatalog `yaml:"contracts,omitempty"`
	Progression  ProgressionDef   `yaml:"progression"`
	Prestige     *PrestigeDef     `yaml:"prestige,omitempty"`
	Achievements []AchievementDef `yaml:"achievements,omitempty"`

	// Digest is the hex blake3 of the raw file the catalog was parsed from.
	Digest string `yaml:"-"`
}

type ResourceDef struct {
	Name    string  `yaml:"name"`
	Initial float64 `yaml:"initial"`
	// Capacity 0 means uncapped.
	Capacity float64 `yaml:"capacity,omitempty"`
}

type StructureDef struct {
	Key            string             `yaml:"key"`
	Name           string             `yaml:"name"`
	Description    string             `yaml:"description"`
	BaseCost       float64            `yaml:"base_cost"`
	CostMultiplier float64            `yaml:"cost_multiplier"`
	CostResource   string             `yaml:"cost_resource"`
	BaseProduction float64            `yaml:"base_production"`
	Produces       string             `yaml:"produces,omitempty"`
	Consumes       string             `yaml:"consumes,omitempty"`
	ConsumeRate    float64            `yaml:"consume_rate,omitempty"`
	Efficiency     float64            `yaml:"efficiency"`
	UpgradeCost    float64            `yaml:"upgrade_cost"`
	CapacityBonus  map[string]float64 `yaml:"capacity_bonus,omitempty"`
}

type ContractCatalog struct {
	FulfillmentOrder   string                   `yaml:"fulfillment_order"`
	PaymentResource    string                   `yaml:"payment_resource"`
	ReputationResource string                   `yaml:"reputation_resource"`
	ReputationFactor   float64                  `yaml:"reputation_factor"`
	DifficultyByStage  []string                 `yaml:"difficulty_by_stage"`
	Ranges             map[string]ContractRange `yaml:"ranges"`
	Templates          []ContractTemplate       `yaml:"templates"`
}

// ContractRange holds inclusive [min, max] pairs.
type ContractRange struct {
	Amount    []int `yaml:"amount"`
	Payment   []int `yaml:"payment"`
	TimeLimit []int `yaml:"time_limit"`
}

type ContractTemplate struct {
	Client  string   `yaml:"client"`
	Demands []string `yaml:"demands"`
}

type ProgressionDef struct {
	Effect               string     `yaml:"effect"`
	ThresholdResource    string     `yaml:"threshold_resource"`
	TransitionDelayTicks int        `yaml:"transition_delay_ticks,omitempty"`
	Stages               []StageDef `yaml:"stages"`
}

type StageDef struct {
	Level                int                `yaml:"level"`
	Name                 string             `yaml:"name"`
	ProgressThreshold    float64            `yaml:"progress_threshold,omitempty"`
	DifficultyMultiplier float64            `yaml:"difficulty_multiplier"`
	StartingResources    map[string]float64 `yaml:"starting_resources,omitempty"`
	UnlockBonus          string             `yaml:"unlock_bonus,omitempty"`
	Challenges           []string           `yaml:"challenges,omitempty"`
}

type PrestigeDef struct {
	Resource   string                `yaml:"resource"`
	Threshold  float64               `yaml:"threshold"`
	ClickPower map[string]ClickScale `yaml:"click_power"`
}

// ClickScale computes click power as Base + floor(bonus / Divisor).
type ClickScale struct {
	Base    float64 `yaml:"base"`
	Divisor int     `yaml:"divisor"`
}

type AchievementDef struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Requirement string  `yaml:"requirement"`
	Threshold   float64 `yaml:"threshold"`
	Reward      string  `yaml:"reward"`
}

// Load reads a catalog file from disk.
func Load(p string) (*Catalog, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return Parse(filepath.Base(p), raw)
}

// LoadFS reads a catalog file from fsys.
func LoadFS(fsys fs.FS, name string) (*Catalog, error) {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	return Parse(path.Base(name), raw)
}

// Builtin loads one of the embedded variants by name ("colony", "farm").
func Builtin(name string) (*Catalog, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\.`) {
		return nil, fmt.Errorf("catalogs: bad variant name %q", name)
	}
	return LoadFS(configs.FS, "variants/"+name+".yaml")
}

// Names lists the embedded variants, sorted.
func Names() []string {
	matches, _ := fs.Glob(configs.FS, "variants/*.yaml")
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(path.Base(m), ".yaml"))
	}
	sort.Strings(out)
	return out
}

// Parse decodes, normalizes and validates raw YAML. file only labels errors.
func Parse(file string, raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	c.Digest = digestHex(raw)
	return &c, nil
}

func digestHex(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Catalog) Normalize() {
	if c == nil {
		return
	}
	c.Name = strings.TrimSpace(c.Name)
	c.ProductionPolicy = strings.ToLower(strings.TrimSpace(c.ProductionPolicy))
	if c.ProductionPolicy == "" {
		c.ProductionPolicy = PolicyDivide
	}
	c.UpgradeCurrency = strings.TrimSpace(c.UpgradeCurrency)
	for i := range c.Resources {
		c.Resources[i].Name = strings.TrimSpace(c.Resources[i].Name)
	}
	for i := range c.Structures {
		s := &c.Structures[i]
		s.Key = strings.TrimSpace(s.Key)
		if s.Name == "" {
			s.Name = s.Key
		}
		if s.Efficiency == 0 {
			s.Efficiency = 1
		}
		if s.CostMultiplier == 0 {
			s.CostMultiplier = 1
		}
	}
	if k := c.Contracts; k != nil {
		k.FulfillmentOrder = strings.ToLower(strings.TrimSpace(k.FulfillmentOrder))
		if k.FulfillmentOrder == "" {
			k.FulfillmentOrder = OrderCountdownFirst
		}
		if k.PaymentResource == "" {
			k.PaymentResource = "money"
		}
		if k.ReputationResource == "" {
			k.ReputationResource = "reputation"
		}
		if k.ReputationFactor == 0 {
			k.ReputationFactor = 0.1
		}
		if len(k.DifficultyByStage) == 0 {
			k.DifficultyByStage = []string{Easy, Medium, Hard}
		}
	}
	c.Progression.Effect = strings.ToLower(strings.TrimSpace(c.Progression.Effect))
	if c.Prestige != nil {
		for k, v := range c.Prestige.ClickPower {
			if v.Divisor == 0 {
				v.Divisor = 1
				c.Prestige.ClickPower[k] = v
			}
		}
	}
}

func (c *Catalog) Validate() error {
	if c == nil {
		return fmt.Errorf("nil catalog")
	}
	if c.Name == "" {
		return fmt.Errorf("missing name")
	}
	switch c.ProductionPolicy {
	case PolicyDivide, PolicyMultiply:
	default:
		return fmt.Errorf("unknown production_policy %q", c.ProductionPolicy)
	}
	if len(c.Resources) == 0 {
		return fmt.Errorf("no resources")
	}
	seen := map[string]bool{}
	for _, r := range c.Resources {
		if r.Name == "" {
			return fmt.Errorf("resource with empty name")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate resource %q", r.Name)
		}
		seen[r.Name] = true
		if r.Initial < 0 || r.Capacity < 0 {
			return fmt.Errorf("resource %s: negative initial or capacity", r.Name)
		}
		if r.Capacity > 0 && r.Initial > r.Capacity {
			return fmt.Errorf("resource %s: initial %v exceeds capacity %v", r.Name, r.Initial, r.Capacity)
		}
	}
	for name, v := range c.ClickPower {
		if !seen[name] {
			return fmt.Errorf("click_power: unknown resource %q", name)
		}
		if v < 0 {
			return fmt.Errorf("click_power %s: negative", name)
		}
	}
	if !seen[c.UpgradeCurrency] {
		return fmt.Errorf("upgrade_currency: unknown resource %q", c.UpgradeCurrency)
	}
	if err := c.validateStructures(seen); err != nil {
		return err
	}
	if c.Contracts != nil {
		if err := c.Contracts.validate(seen); err != nil {
			return fmt.Errorf("contracts: %w", err)
		}
	}
	if err := c.Progression.validate(seen); err != nil {
		return fmt.Errorf("progression: %w", err)
	}
	if p := c.Prestige; p != nil {
		if !seen[p.Resource] {
			return fmt.Errorf("prestige: unknown resource %q", p.Resource)
		}
		if p.Threshold <= 0 {
			return fmt.Errorf("prestige: threshold must be > 0")
		}
		for name, s := range p.ClickPower {
			if !seen[name] {
				return fmt.Errorf("prestige.click_power: unknown resource %q", name)
			}
			if s.Divisor < 1 {
				return fmt.Errorf("prestige.click_power %s: divisor must be >= 1", name)
			}
		}
	}
	ids := map[string]bool{}
	for _, a := range c.Achievements {
		if a.ID == "" || ids[a.ID] {
			return fmt.Errorf("achievements: empty or duplicate id %q", a.ID)
		}
		ids[a.ID] = true
		if !knownRequirement(a.Requirement) && !seen[a.Requirement] {
			return fmt.Errorf("achievement %s: unknown requirement %q", a.ID, a.Requirement)
		}
		if a.Threshold <= 0 {
			return fmt.Errorf("achievement %s: threshold must be > 0", a.ID)
		}
	}
	return nil
}

func (c *Catalog) validateStructures(res map[string]bool) error {
	if len(c.Structures) == 0 {
		return fmt.Errorf("no structures")
	}
	keys := map[string]bool{}
	for _, s := range c.Structures {
		if s.Key == "" || keys[s.Key] {
			return fmt.Errorf("structures: empty or duplicate key %q", s.Key)
		}
		keys[s.Key] = true
		if s.BaseCost <= 0 || s.CostMultiplier < 1 {
			return fmt.Errorf("structure %s: base_cost must be > 0 and cost_multiplier >= 1", s.Key)
		}
		if !res[s.CostResource] {
			return fmt.Errorf("structure %s: unknown cost_resource %q", s.Key, s.CostResource)
		}
		if s.Produces != "" && !res[s.Produces] {
			return fmt.Errorf("structure %s: unknown produces %q", s.Key, s.Produces)
		}
		if s.Consumes != "" && !res[s.Consumes] {
			return fmt.Errorf("structure %s: unknown consumes %q", s.Key, s.Consumes)
		}
		if s.BaseProduction < 0 || s.ConsumeRate < 0 || s.UpgradeCost < 0 || s.Efficiency <= 0 {
			return fmt.Errorf("structure %s: negative production, rate, upgrade cost or efficiency", s.Key)
		}
		for name, b := range s.CapacityBonus {
			r, ok := c.Resource(name)
			if !ok {
				return fmt.Errorf("structure %s: capacity_bonus for unknown resource %q", s.Key, name)
			}
			if r.Capacity == 0 {
				return fmt.Errorf("structure %s: capacity_bonus for uncapped resource %q", s.Key, name)
			}
			if b < 0 {
				return fmt.Errorf("structure %s: negative capacity_bonus", s.Key)
			}
		}
	}
	return nil
}

func (k *ContractCatalog) validate(res map[string]bool) error {
	switch k.FulfillmentOrder {
	case OrderCountdownFirst, OrderFulfillFirst:
	default:
		return fmt.Errorf("unknown fulfillment_order %q", k.FulfillmentOrder)
	}
	if !res[k.PaymentResource] || !res[k.ReputationResource] {
		return fmt.Errorf("unknown payment or reputation resource")
	}
	if k.ReputationFactor < 0 {
		return fmt.Errorf("negative reputation_factor")
	}
	for _, d := range k.DifficultyByStage {
		if _, ok := k.Ranges[d]; !ok {
			return fmt.Errorf("difficulty %q has no range", d)
		}
	}
	for d, r := range k.Ranges {
		for _, pair := range []struct {
			name string
			v    []int
			min  int
		}{{"amount", r.Amount, 1}, {"payment", r.Payment, 0}, {"time_limit", r.TimeLimit, 1}} {
			if len(pair.v) != 2 || pair.v[0] < pair.min || pair.v[0] > pair.v[1] {
				return fmt.Errorf("range %s.%s: want [min, max] with min >= %d", d, pair.name, pair.min)
			}
		}
	}
	if len(k.Templates) == 0 {
		return fmt.Errorf("no templates")
	}
	for _, t := range k.Templates {
		if strings.TrimSpace(t.Client) == "" || len(t.Demands) == 0 {
			return fmt.Errorf("template needs client and demands")
		}
		for _, d := range t.Demands {
			if !res[d] {
				return fmt.Errorf("template %s: unknown demand %q", t.Client, d)
			}
		}
	}
	return nil
}

func (p *ProgressionDef) validate(res map[string]bool) error {
	switch p.Effect {
	case EffectReset, EffectAdvanceOnly:
	default:
		return fmt.Errorf("unknown effect %q", p.Effect)
	}
	if !res[p.ThresholdResource] {
		return fmt.Errorf("unknown threshold_resource %q", p.ThresholdResource)
	}
	if p.TransitionDelayTicks < 0 {
		return fmt.Errorf("negative transition_delay_ticks")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("no stages")
	}
	prev := 1.0
	for i, s := range p.Stages {
		if s.Level != i+1 {
			return fmt.Errorf("stage %d: level %d out of order", i+1, s.Level)
		}
		if s.DifficultyMultiplier < 1 || s.DifficultyMultiplier < prev {
			return fmt.Errorf("stage %d: difficulty_multiplier must be >= 1 and non-decreasing", s.Level)
		}
		prev = s.DifficultyMultiplier
		if i < len(p.Stages)-1 && s.ProgressThreshold <= 0 {
			return fmt.Errorf("stage %d: progress_threshold must be > 0", s.Level)
		}
		for name, v := range s.StartingResources {
			if !res[name] || v < 0 {
				return fmt.Errorf("stage %d: bad starting resource %q", s.Level, name)
			}
		}
	}
	return nil
}

func knownRequirement(r string) bool {
	switch r {
	case ReqManualClick, ReqStructuresOwned, ReqStructureUpgrades, ReqProductionRate, ReqContractsFulfilled, ReqStage:
		return true
	}
	return false
}

func (c *Catalog) Resource(name string) (ResourceDef, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceDef{}, false
}

func (c *Catalog) Structure(key string) (StructureDef, bool) {
	for _, s := range c.Structures {
		if s.Key == key {
			return s, true
		}
	}
	return StructureDef{}, false
}

// Initial returns the catalog's starting amounts for every resource.
func (c *Catalog) Initial() map[string]float64 {
	out := make(map[string]float64, len(c.Resources))
	for _, r := range c.Resources {
		out[r.Name] = r.Initial
	}
	return out
}

// Difficulty names the contract difficulty for a 1-based stage level.
func (k *ContractCatalog) Difficulty(level int) string {
	i := level - 1
	if i < 0 {
		i = 0
	}
	if i >= len(k.DifficultyByStage) {
		i = len(k.DifficultyByStage) - 1
	}
	return k.DifficultyByStage[i]
}
