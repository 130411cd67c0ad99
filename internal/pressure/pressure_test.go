package pressure

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sources map[Category]float64
		wantErr bool
	}{
		{"empty", map[Category]float64{}, false},
		{"in range", map[Category]float64{Economic: 0.5, Social: 1.0}, false},
		{"zero", map[Category]float64{Political: 0}, false},
		{"negative", map[Category]float64{Economic: -0.01}, true},
		{"above one", map[Category]float64{Environmental: 1.01}, true},
		{"unknown category", map[Category]float64{"arcane": 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sources)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCategoryEventType(t *testing.T) {
	for _, c := range Categories() {
		et := c.EventType()
		if et == "unknown" {
			t.Errorf("category %q has no event type", c)
		}
		back, ok := CategoryForEvent(et)
		if !ok || back != c {
			t.Errorf("CategoryForEvent(%q) = %q, %v, want %q", et, back, ok, c)
		}
	}
	if _, ok := CategoryForEvent("dragon_attack"); ok {
		t.Error("CategoryForEvent accepted an unknown event type")
	}
}

func TestVectorDominant(t *testing.T) {
	tests := []struct {
		name     string
		vec      Vector
		wantCat  Category
		wantVal  float64
	}{
		{"empty", Vector{}, Economic, 0},
		{"single", Vector{Social: 0.7}, Social, 0.7},
		{"highest wins", Vector{Economic: 0.3, Political: 0.8, Social: 0.5}, Political, 0.8},
		{"tie resolves in canonical order", Vector{Diplomatic: 0.6, Social: 0.6}, Social, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, val := tt.vec.Dominant()
			if cat != tt.wantCat || val != tt.wantVal {
				t.Errorf("Dominant() = %q, %.2f, want %q, %.2f", cat, val, tt.wantCat, tt.wantVal)
			}
		})
	}
}

func TestStoreMerge(t *testing.T) {
	s := NewStore()

	if err := s.Merge("", map[Category]float64{Economic: 0.5}); err == nil {
		t.Error("Merge accepted an empty region name")
	}
	if err := s.Merge("r1", map[Category]float64{Economic: 1.5}); err == nil {
		t.Error("Merge accepted out-of-range pressure")
	}
	if got := len(s.Regions()); got != 0 {
		t.Fatalf("rejected merges created %d regions", got)
	}

	if err := s.Merge("r1", map[Category]float64{Economic: 0.5, Social: 0.2}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if err := s.Merge("r1", map[Category]float64{Economic: 0.8}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	vec := s.Region("r1")
	if vec[Economic] != 0.8 {
		t.Errorf("economic = %.2f after replace, want 0.80", vec[Economic])
	}
	if vec[Social] != 0.2 {
		t.Errorf("social = %.2f, untouched category should persist", vec[Social])
	}
}

func TestStoreRegionOrder(t *testing.T) {
	s := NewStore()
	for _, r := range []string{"zeta", "alpha", "mid"} {
		if err := s.Merge(r, map[Category]float64{Economic: 0.1}); err != nil {
			t.Fatalf("Merge(%q) error = %v", r, err)
		}
	}
	// Re-merging must not duplicate or reorder.
	if err := s.Merge("alpha", map[Category]float64{Social: 0.2}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	got := s.Regions()
	want := []string{"zeta", "alpha", "mid"}
	if len(got) != len(want) {
		t.Fatalf("Regions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Regions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegionReturnsCopy(t *testing.T) {
	s := NewStore()
	if err := s.Merge("r1", map[Category]float64{Economic: 0.5}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	vec := s.Region("r1")
	vec[Economic] = 0.99

	if got := s.Region("r1")[Economic]; got != 0.5 {
		t.Errorf("store mutated through returned vector: economic = %.2f", got)
	}
}
