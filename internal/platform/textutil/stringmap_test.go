package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and values and drops blank keys", func(t *testing.T) {
		got := NormalizeStringMap(map[string]string{
			" Saveur ": " Pistache ",
			"decor":    " Chocolat ",
			"message":  " ",
			" ":        "dropped",
			"":         "dropped",
		})

		want := map[string]string{
			"Saveur":  "Pistache",
			"decor":   "Chocolat",
			"message": "",
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("NormalizeStringMap = %#v, want %#v", got, want)
		}
	})

	t.Run("nil or empty input yields nil", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatal("nil input should stay nil")
		}
		if NormalizeStringMap(map[string]string{}) != nil {
			t.Fatal("empty map should collapse to nil")
		}
	})
}

func TestParseStringMap(t *testing.T) {
	got := ParseStringMap(" staging = atelier-sucre-staging , production=atelier-sucre-prod , malformed ")
	want := map[string]string{
		"staging":    "atelier-sucre-staging",
		"production": "atelier-sucre-prod",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseStringMap = %#v, want %#v", got, want)
	}

	if ParseStringMap("  ") != nil {
		t.Fatal("blank input should parse to nil")
	}
}
