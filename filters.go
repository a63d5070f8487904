package lavago

import "sync"

// FilterController accumulates named filter blocks and flushes the
// active subset to a node atomically. A named block replaces wholesale
// on Apply — filters never merge per-field, matching the node's own
// filters object semantics (spec.md §4.7).
type FilterController struct {
	mu     sync.Mutex
	blocks map[string]interface{}
	flush  func(map[string]interface{}) error
}

// NewFilterController creates an empty controller; flush is invoked
// with the full current block set on every Apply/Remove/Clear.
func NewFilterController(flush func(map[string]interface{}) error) *FilterController {
	return &FilterController{
		blocks: make(map[string]interface{}),
		flush:  flush,
	}
}

// Apply deep-merges patch into the controller: each key in patch
// replaces that key's block wholesale (never per-field), then flushes
// the resulting full set.
func (f *FilterController) Apply(patch map[string]interface{}) error {
	f.mu.Lock()
	for name, block := range patch {
		f.blocks[name] = block
	}
	snapshot := f.snapshotLocked()
	f.mu.Unlock()
	return f.flush(snapshot)
}

// Remove deletes a named block and flushes.
func (f *FilterController) Remove(name string) error {
	f.mu.Lock()
	delete(f.blocks, name)
	snapshot := f.snapshotLocked()
	f.mu.Unlock()
	return f.flush(snapshot)
}

// Clear discards every block and flushes an empty set.
func (f *FilterController) Clear() error {
	f.mu.Lock()
	f.blocks = make(map[string]interface{})
	f.mu.Unlock()
	return f.flush(map[string]interface{}{})
}

// Current returns a snapshot of the active blocks.
func (f *FilterController) Current() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *FilterController) snapshotLocked() map[string]interface{} {
	out := make(map[string]interface{}, len(f.blocks))
	for k, v := range f.blocks {
		out[k] = v
	}
	return out
}

// ApplyPreset looks up name (case-insensitive, dash/space/underscore
// insensitive) in the built-in preset catalog and applies its recipe.
func (f *FilterController) ApplyPreset(name string) error {
	preset, ok := filterPresets[normalizePresetName(name)]
	if !ok {
		return ErrInvalidArgument
	}
	return f.Apply(preset)
}

// Equalizer band helper, used by several presets below.
type eqBand struct {
	Band float64 `json:"band"`
	Gain float64 `json:"gain"`
}

func eq(bands ...eqBand) []eqBand { return bands }

// filterPresets is the constant recipe catalog loaded at startup, keyed
// by normalized preset name.
var filterPresets = map[string]map[string]interface{}{
	"bassboostlow": {
		"equalizer": eq(eqBand{0, 0.10}, eqBand{1, 0.08}, eqBand{2, 0.06}),
	},
	"bassboostmed": {
		"equalizer": eq(eqBand{0, 0.20}, eqBand{1, 0.15}, eqBand{2, 0.10}),
	},
	"bassboosthigh": {
		"equalizer": eq(eqBand{0, 0.30}, eqBand{1, 0.25}, eqBand{2, 0.15}),
	},
	"nightcore": {
		"timescale": map[string]interface{}{"speed": 1.2, "pitch": 1.2, "rate": 1.0},
	},
	"vaporwave": {
		"timescale": map[string]interface{}{"speed": 0.8, "pitch": 0.8, "rate": 1.0},
	},
	"8d": {
		"rotation": map[string]interface{}{"rotationHz": 0.2},
	},
	"karaoke": {
		"karaoke": map[string]interface{}{"level": 1.0, "monoLevel": 1.0, "filterBand": 220.0, "filterWidth": 100.0},
	},
	"tremolo": {
		"tremolo": map[string]interface{}{"frequency": 2.0, "depth": 0.5},
	},
	"vibrato": {
		"vibrato": map[string]interface{}{"frequency": 2.0, "depth": 0.5},
	},
	"soft": {
		"lowPass": map[string]interface{}{"smoothing": 20.0},
	},
	"pop": {
		"equalizer": eq(eqBand{0, 0.05}, eqBand{1, 0.05}, eqBand{2, 0.00}, eqBand{3, -0.05}, eqBand{4, 0.10}),
	},
	"rock": {
		"equalizer": eq(eqBand{0, 0.08}, eqBand{1, 0.04}, eqBand{5, 0.05}, eqBand{6, 0.06}),
	},
	"electronic": {
		"equalizer": eq(eqBand{0, 0.15}, eqBand{1, 0.10}, eqBand{7, 0.08}, eqBand{8, 0.08}),
	},
	"classical": {
		"equalizer": eq(eqBand{0, -0.05}, eqBand{3, 0.05}, eqBand{4, 0.05}),
	},
	"distortion": {
		"distortion": map[string]interface{}{"sinOffset": 0, "sinScale": 1, "cosOffset": 0, "cosScale": 1, "tanOffset": 0, "tanScale": 1, "offset": 0, "scale": 1},
	},
	"channelmix": {
		"channelMix": map[string]interface{}{"leftToLeft": 1.0, "leftToRight": 0.0, "rightToLeft": 0.0, "rightToRight": 1.0},
	},
}
