package engine

import (
	"stellarcolony.ai/internal/sim/achievements"
	"stellarcolony.ai/internal/sim/contracts"
	"stellarcolony.ai/internal/sim/structures"
)

type IntentKind string

const (
	IntentGenerate       IntentKind = "GENERATE"
	IntentPurchase       IntentKind = "PURCHASE"
	IntentUpgrade        IntentKind = "UPGRADE"
	IntentAcceptContract IntentKind = "ACCEPT_CONTRACT"
	IntentPrestige       IntentKind = "PRESTIGE"
)

// Intent is one player action. Only the field matching Kind is read.
type Intent struct {
	Kind       IntentKind `json:"kind"`
	Resource   string     `json:"resource,omitempty"`
	Structure  string     `json:"structure,omitempty"`
	ContractID string     `json:"contract_id,omitempty"`
}

// Result describes an accepted intent.
type Result struct {
	Kind IntentKind `json:"kind"`
	// Amount is the quantity gained for GENERATE and the price paid for
	// PURCHASE and UPGRADE.
	Amount   float64             `json:"amount,omitempty"`
	Contract *contracts.Contract `json:"contract,omitempty"`
	Bonus    int                 `json:"bonus,omitempty"`
}

const (
	EventStructurePurchased = "STRUCTURE_PURCHASED"
	EventStructureUpgraded  = "STRUCTURE_UPGRADED"
	EventContractAccepted   = "CONTRACT_ACCEPTED"
	EventContractFulfilled  = "CONTRACT_FULFILLED"
	EventContractExpired    = "CONTRACT_EXPIRED"
	EventStageAdvanced      = "STAGE_ADVANCED"
	EventPrestige           = "PRESTIGE"
	EventAchievement        = "ACHIEVEMENT_UNLOCKED"
)

type Event struct {
	Tick    uint64         `json:"tick"`
	Type    string         `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

// Stats are session counters. They survive prestige and stage resets.
type Stats struct {
	Ticks              uint64 `json:"ticks"`
	ManualClicks       int    `json:"manual_clicks"`
	StructuresBought   int    `json:"structures_bought"`
	Upgrades           int    `json:"upgrades"`
	ContractsAccepted  int    `json:"contracts_accepted"`
	ContractsFulfilled int    `json:"contracts_fulfilled"`
	ContractsExpired   int    `json:"contracts_expired"`
	StageTransitions   int    `json:"stage_transitions"`
	Prestiges          int    `json:"prestiges"`
}

type TickReport struct {
	Tick         uint64
	Produced     map[string]float64
	Fulfilled    []contracts.Contract
	Expired      []contracts.Contract
	Generated    []contracts.Contract
	StageEntered int // 0 when no transition applied
	Achievements []string
	Digest       string
}

// Snapshot is an immutable copy of the whole game, safe to hand to other goroutines.
type Snapshot struct {
	Variant         string                `json:"variant"`
	Tick            uint64                `json:"tick"`
	UpgradeCurrency string                `json:"upgrade_currency"`
	Resources       map[string]float64    `json:"resources"`
	Capacities      map[string]float64    `json:"capacities,omitempty"`
	ClickPower      map[string]float64    `json:"click_power"`
	Structures      []structures.View     `json:"structures"`
	ProductionRate  float64               `json:"production_rate"`
	Contracts       *ContractsView        `json:"contracts,omitempty"`
	Stage           StageView             `json:"stage"`
	Prestige        PrestigeView          `json:"prestige"`
	Achievements    []achievements.Status `json:"achievements,omitempty"`
	Stats           Stats                 `json:"stats"`
	Digest          string                `json:"digest"`
}

type ContractsView struct {
	Available []contracts.Contract `json:"available"`
	Active    []contracts.Contract `json:"active"`
	MaxActive int                  `json:"max_active"`
}

type StageView struct {
	Level             int      `json:"level"`
	Name              string   `json:"name"`
	Difficulty        float64  `json:"difficulty"`
	ThresholdResource string   `json:"threshold_resource"`
	Threshold         float64  `json:"threshold,omitempty"`
	Progress          float64  `json:"progress"`
	Terminal          bool     `json:"terminal"`
	PendingTicks      int      `json:"pending_ticks,omitempty"`
	UnlockBonus       string   `json:"unlock_bonus,omitempty"`
	Challenges        []string `json:"challenges,omitempty"`
	Stages            int      `json:"stages"`
}

type PrestigeView struct {
	Enabled      bool    `json:"enabled"`
	Level        int     `json:"level"`
	Bonus        int     `json:"bonus"`
	Eligible     bool    `json:"eligible"`
	PendingBonus int     `json:"pending_bonus"`
	NextAt       float64 `json:"next_at,omitempty"`
}

// Journal receives one entry per tick. Implemented in internal/persistence/journal.
type Journal interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry is one journal line. The entry for tick 0 carries Meta and the
// digest of the freshly created game.
type TickLogEntry struct {
	Tick    uint64       `json:"tick"`
	Meta    *JournalMeta `json:"meta,omitempty"`
	Intents []Intent     `json:"intents,omitempty"`
	Digest  string       `json:"digest"`
}

type JournalMeta struct {
	SessionID     string `json:"session_id,omitempty"`
	Variant       string `json:"variant"`
	CatalogDigest string `json:"catalog_digest"`
	Seed          int64  `json:"seed"`
	MinAvailable  int    `json:"min_available"`
	MaxActive     int    `json:"max_active"`
	PeriodicEvery int    `json:"periodic_every_ticks"`
	PeriodicCap   int    `json:"periodic_cap"`
}

// EventSink receives engine events off the simulation loop. Implemented in
// internal/persistence/indexdb.
type EventSink interface {
	RecordEvents(sessionID, variant string, events []Event)
}
