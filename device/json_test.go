package device

import "testing"

func TestSaveOnePinInputNoPull(t *testing.T) {
	cfg := NewConfig()
	cfg.SetPin(1, PinConfig{Direction: Input})

	data, err := Save(cfg)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	want := `{"pins":[{"bcm":1,"direction":"input","function":"gpio","pull":"none","level":false}]}`
	if string(data) != want {
		t.Errorf("Save = %s, want %s", data, want)
	}
}

func TestSaveOnePinOutputWithLevel(t *testing.T) {
	cfg := NewConfig()
	cfg.SetPin(7, PinConfig{Direction: Output, Level: High})

	data, err := Save(cfg)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	want := `{"pins":[{"bcm":7,"direction":"output","function":"gpio","pull":"none","level":true}]}`
	if string(data) != want {
		t.Errorf("Save = %s, want %s", data, want)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.SetPin(17, PinConfig{Direction: Output, Level: High})
	cfg.SetPin(26, PinConfig{Direction: Input, Pull: PullUp})

	data, err := Save(cfg)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !loaded.Equal(cfg) {
		t.Errorf("round-tripped config differs: got %v pins", loaded.Pins())
	}

	pc, _ := loaded.Pin(17)
	if pc.Direction != Output || pc.Level != High {
		t.Errorf("pin 17 = %+v, want high output", pc)
	}
	pc, _ = loaded.Pin(26)
	if pc.Direction != Input || pc.Pull != PullUp {
		t.Errorf("pin 26 = %+v, want pull-up input", pc)
	}
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{`},
		{"duplicate pin", `{"pins":[{"bcm":1,"direction":"input","function":"gpio","pull":"none","level":false},{"bcm":1,"direction":"input","function":"gpio","pull":"none","level":false}]}`},
		{"output with pull", `{"pins":[{"bcm":1,"direction":"output","function":"gpio","pull":"pull-up","level":false}]}`},
		{"unknown direction", `{"pins":[{"bcm":1,"direction":"sideways","function":"gpio","pull":"none","level":false}]}`},
		{"unknown pull", `{"pins":[{"bcm":1,"direction":"input","function":"gpio","pull":"strong","level":false}]}`},
		{"unknown function", `{"pins":[{"bcm":1,"direction":"input","function":"warp","pull":"none","level":false}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load([]byte(tt.doc)); err == nil {
				t.Error("Load accepted a bad document")
			}
		})
	}
}
