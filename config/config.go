// Package config resolves leanbtree's configuration surface (spec §6) from
// a gosettings.Settings map into a typed Config, the same way
// bnclabs-gostore/llrb/config.go turns its Settings into arena sizes via
// Defaultsettings()/readsettings().
package config

import (
	s "github.com/prataprc/gosettings"
	sigar "github.com/cloudfoundry/gosigar"
)

// Config is the resolved, immutable configuration captured once at tree
// creation (spec §9's redesign note: configuration is injected, never read
// off package globals).
type Config struct {
	// MV enables multi-version behavior; when false, updates never record
	// a secondary version (spec §6 "mv").
	MV bool

	// FatTuple allows chained→fat promotion (spec §6 "vi_fat_tuple").
	FatTuple bool

	// UpdateVersionElision permits skipping version creation under the
	// read-committed-all-idle condition (spec §6 "vi_update_version_elision").
	UpdateVersionElision bool

	// ForcedChainedUpdate performs unversioned in-place updates, for
	// benchmarking only (spec §6 "vi_fupdate_chained").
	ForcedChainedUpdate bool

	// ForcedRemove performs structural-only removes, unsafe under MVCC,
	// for benchmarking only (spec §6 "vi_fremove").
	ForcedRemove bool

	// DanglingPointer allows the fast-path todo via a pinned latch version
	// (spec §6 "vi_dangling_pointer").
	DanglingPointer bool

	// MaxChainLength hard-caps the version chain walked during
	// reconstruction (spec §6 "vi_max_chain_length").
	MaxChainLength int

	// TwoPL selects two-phase-locking serializability over the timestamp
	// variant (spec §6 "2pl").
	TwoPL bool

	// XMerge enables leaf GC / cross-merge during check_space_utilization
	// (spec §6 "xmerge").
	XMerge bool

	// PageCapacity is the byte budget for each leaf page's data area.
	PageCapacity int

	// GarbageThreshold is the GarbageRatio above which check_space_utilization
	// triggers leaf GC on a page (spec §4.6).
	GarbageThreshold float64

	// SplitHintThreshold is compared against a leaf's update-hint counter
	// (SPEC_FULL.md §D.1): leaf GC decomposes fat tuples only once the hint
	// reaches it, and chained→fat promotion needs a quarter of it. No code
	// path splits a leaf because of it.
	SplitHintThreshold int

	// PromotionGate is the probability (0,1] that an eligible chained
	// tuple is actually promoted to fat on any one gated attempt
	// (spec §4.2 "a random gate fires").
	PromotionGate float64

	// FatDeltaCapacity bounds the number of inline deltas a fat tuple
	// carries before the oldest is evicted to the version store (spec §3).
	FatDeltaCapacity int
}

// Defaults returns the baseline configuration, sized the way
// bnclabs-gostore/llrb/config.go sizes its arenas off free system memory via
// gosigar, then merged with any caller overrides exactly like
// Defaultsettings().Mixin(overrides) does.
func Defaults(overrides s.Settings) Config {
	setts := s.Settings{
		"mv":                          true,
		"vi_fat_tuple":                true,
		"vi_update_version_elision":   true,
		"vi_fupdate_chained":          false,
		"vi_fremove":                  false,
		"vi_dangling_pointer":         true,
		"vi_max_chain_length":         int64(128),
		"2pl":                         false,
		"xmerge":                      true,
		"page.capacity":               int64(defaultPageCapacity()),
		"page.garbage_threshold":      float64(0.4),
		"page.split_hint_threshold":   int64(64),
		"tuple.promotion_gate":        float64(0.1),
		"tuple.fat_delta_capacity":    int64(8),
	}
	setts = setts.Mixin(overrides)

	return Config{
		MV:                   setts.Bool("mv"),
		FatTuple:             setts.Bool("vi_fat_tuple"),
		UpdateVersionElision: setts.Bool("vi_update_version_elision"),
		ForcedChainedUpdate:  setts.Bool("vi_fupdate_chained"),
		ForcedRemove:         setts.Bool("vi_fremove"),
		DanglingPointer:      setts.Bool("vi_dangling_pointer"),
		MaxChainLength:       int(setts.Int64("vi_max_chain_length")),
		TwoPL:                setts.Bool("2pl"),
		XMerge:               setts.Bool("xmerge"),
		PageCapacity:         int(setts.Int64("page.capacity")),
		GarbageThreshold:     setts.Float64("page.garbage_threshold"),
		SplitHintThreshold:   int(setts.Int64("page.split_hint_threshold")),
		PromotionGate:        setts.Float64("tuple.promotion_gate"),
		FatDeltaCapacity:     int(setts.Int64("tuple.fat_delta_capacity")),
	}
}

// defaultPageCapacity mirrors llrb/config.go's getsysmem(): size a sane
// default off free system memory rather than a fixed magic number, falling
// back to a conservative 16KiB page when sigar can't read /proc.
func defaultPageCapacity() int {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil || mem.Free == 0 {
		return 16 * 1024
	}
	// budget leaf pages generously small relative to free RAM; this is a
	// default for tests and small deployments, not a production sizing
	// policy (buffer pool sizing/eviction is an external collaborator,
	// spec §1).
	const leafFraction = 1.0 / (64 * 1024)
	capacity := int(float64(mem.Free) * leafFraction)
	if capacity < 4*1024 {
		return 4 * 1024
	}
	if capacity > 64*1024 {
		return 64 * 1024
	}
	return capacity
}
