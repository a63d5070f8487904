package lavago

import "testing"

func TestFilterControllerApplyFlushesWholeSet(t *testing.T) {
	var flushed map[string]interface{}
	fc := NewFilterController(func(blocks map[string]interface{}) error {
		flushed = blocks
		return nil
	})

	if err := fc.Apply(map[string]interface{}{"timescale": map[string]interface{}{"speed": 1.2}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("expected 1 block flushed, got %d", len(flushed))
	}

	if err := fc.Apply(map[string]interface{}{"vibrato": map[string]interface{}{"depth": 0.5}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flushed) != 2 {
		t.Fatalf("expected both blocks to accumulate, got %d", len(flushed))
	}
}

func TestFilterControllerApplyReplacesWholesale(t *testing.T) {
	var flushed map[string]interface{}
	fc := NewFilterController(func(blocks map[string]interface{}) error {
		flushed = blocks
		return nil
	})
	_ = fc.Apply(map[string]interface{}{"equalizer": []eqBand{{Band: 0, Gain: 0.1}}})
	_ = fc.Apply(map[string]interface{}{"equalizer": []eqBand{{Band: 1, Gain: 0.2}}})

	bands, ok := flushed["equalizer"].([]eqBand)
	if !ok || len(bands) != 1 || bands[0].Band != 1 {
		t.Fatalf("expected whole-block replace to discard prior bands, got %v", flushed["equalizer"])
	}
}

func TestFilterControllerRemoveAndClear(t *testing.T) {
	var flushed map[string]interface{}
	fc := NewFilterController(func(blocks map[string]interface{}) error {
		flushed = blocks
		return nil
	})
	_ = fc.Apply(map[string]interface{}{"karaoke": map[string]interface{}{"level": 1.0}})
	_ = fc.Remove("karaoke")
	if _, ok := flushed["karaoke"]; ok {
		t.Fatal("expected karaoke block to be removed")
	}

	_ = fc.Apply(map[string]interface{}{"tremolo": map[string]interface{}{"depth": 1.0}})
	_ = fc.Clear()
	if len(flushed) != 0 {
		t.Fatalf("expected empty flush after Clear, got %v", flushed)
	}
}

func TestFilterControllerApplyPresetNormalizesName(t *testing.T) {
	fc := NewFilterController(func(map[string]interface{}) error { return nil })
	for _, name := range []string{"Bass Boost Low", "bass-boost-low", "bassboostlow"} {
		if err := fc.ApplyPreset(name); err != nil {
			t.Fatalf("preset %q: unexpected error: %v", name, err)
		}
		if _, ok := fc.Current()["equalizer"]; !ok {
			t.Fatalf("preset %q: expected equalizer block applied", name)
		}
		fc.Clear()
	}
}

func TestFilterControllerApplyPresetUnknown(t *testing.T) {
	fc := NewFilterController(func(map[string]interface{}) error { return nil })
	if err := fc.ApplyPreset("not-a-real-preset"); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
