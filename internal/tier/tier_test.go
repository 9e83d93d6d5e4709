package tier

import "testing"

func TestDefaultTierFor(t *testing.T) {
	cases := map[Complexity]Tier{Low: Fast, Medium: Verify, High: Deep}
	for c, want := range cases {
		if got := DefaultTierFor(c); got != want {
			t.Errorf("DefaultTierFor(%v) = %v, want %v", c, got, want)
		}
	}
}

func TestCatalogEstimateCost(t *testing.T) {
	cat := DefaultCatalog()
	spec := cat.Spec(Fast)
	got := cat.EstimateCost(Fast, 1_000_000, 1_000_000)
	want := spec.InputPricePerM + spec.OutputPricePerM
	if got != want {
		t.Errorf("EstimateCost = %v, want %v", got, want)
	}
}

func TestNewCatalogRejectsMissingTier(t *testing.T) {
	_, err := NewCatalog(Spec{Tier: Fast}, Spec{Tier: Verify})
	if err == nil {
		t.Fatal("expected error for missing Deep tier")
	}
}

func TestNewCatalogRejectsDuplicateTier(t *testing.T) {
	_, err := NewCatalog(Spec{Tier: Fast}, Spec{Tier: Fast}, Spec{Tier: Deep})
	if err == nil {
		t.Fatal("expected error for duplicate tier")
	}
}

func TestNext(t *testing.T) {
	if n, ok := Next(Fast); !ok || n != Verify {
		t.Errorf("Next(Fast) = %v, %v", n, ok)
	}
	if n, ok := Next(Verify); !ok || n != Deep {
		t.Errorf("Next(Verify) = %v, %v", n, ok)
	}
	if _, ok := Next(Deep); ok {
		t.Error("Next(Deep) should have no successor")
	}
}

func TestTierJSONRoundTrip(t *testing.T) {
	for _, want := range Ladder {
		data, err := want.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got Tier
		if err := got.UnmarshalJSON(data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got != want {
			t.Errorf("round trip: got %v, want %v", got, want)
		}
	}
}
