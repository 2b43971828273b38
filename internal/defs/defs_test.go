package defs

import "testing"

func TestFindSatellite(t *testing.T) {
	t.Parallel()

	sat, err := FindSatellite("G18")
	if err != nil {
		t.Fatalf("FindSatellite: %v", err)
	}
	if sat.Name != "Galaxy 18" || sat.Band != "Ku" {
		t.Fatalf("sat=%+v", sat)
	}

	if _, err := FindSatellite("NOPE"); err == nil {
		t.Fatalf("expected error for unknown alias")
	}
}

func TestSatelliteAliases(t *testing.T) {
	t.Parallel()

	aliases := SatelliteAliases()
	if len(aliases) == 0 {
		t.Fatalf("empty catalog")
	}
	seen := map[string]bool{}
	for _, a := range aliases {
		if seen[a] {
			t.Fatalf("duplicate alias %q", a)
		}
		seen[a] = true
	}
}

func TestValidKind(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{KindStandalone, KindUSB, KindSDR, KindSatIP} {
		if !ValidKind(kind) {
			t.Fatalf("kind %q should be valid", kind)
		}
	}
	if ValidKind("gui") {
		t.Fatalf("unexpected valid kind")
	}
}
