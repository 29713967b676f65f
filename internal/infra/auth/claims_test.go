package auth

import (
	"encoding/json"
	"math"
	"slices"
	"testing"
	"time"
)

func TestNewClaimsCopiesInput(t *testing.T) {
	src := map[string]any{"sub": "alice"}
	c := NewClaims(src)
	src["sub"] = "mallory"

	if c.Subject() != "alice" {
		t.Fatalf("claims changed through source map: %q", c.Subject())
	}

	m := c.Map()
	m["sub"] = "mallory"
	if c.Subject() != "alice" {
		t.Fatalf("claims changed through Map(): %q", c.Subject())
	}
}

func TestClaimsAccessors(t *testing.T) {
	c := NewClaims(map[string]any{
		"sub":   "alice",
		"iss":   "issuer",
		"aud":   []any{"api", "web"},
		"jti":   "id-1",
		"iat":  float64(1_700_000_000),
		"exp":  json.Number("1700001800"),
		"big":   float64(12345678901),
		"ratio": 0.5,
		"flag":  true,
	})

	if got := c.Audience(); !slices.Equal(got, []string{"api", "web"}) {
		t.Errorf("aud = %v", got)
	}
	if got := c.IssuedAt(); !got.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("iat = %s", got)
	}
	if got := c.ExpiresAt(); !got.Equal(time.Unix(1_700_001_800, 0)) {
		t.Errorf("exp = %s", got)
	}
	for name, want := range map[string]string{"big": "12345678901", "ratio": "0.5", "flag": "true", "missing": ""} {
		if got := c.String(name); got != want {
			t.Errorf("String(%s) = %q, want %q", name, got, want)
		}
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get reported a missing claim")
	}
	if !c.Time("sub").IsZero() {
		t.Error("non-numeric claim parsed as time")
	}
}

func TestClaimsTimeFarFuture(t *testing.T) {
	c := NewClaims(map[string]any{
		"exp": float64(100_000_000_000),
		"iat": json.Number("100000000000.25"),
		"nbf": float64(-1_500),
		"bad": math.Inf(1),
	})

	if got := c.ExpiresAt(); got.Unix() != 100_000_000_000 || got.Year() < 2262 {
		t.Fatalf("exp = %s", got)
	}
	if got := c.IssuedAt(); got.Unix() != 100_000_000_000 || got.Nanosecond() != 250_000_000 {
		t.Fatalf("iat = %s", got)
	}
	if got := c.Time("nbf"); got.Unix() != -1_500 {
		t.Fatalf("nbf = %s", got)
	}
	if !c.Time("bad").IsZero() {
		t.Fatal("infinite timestamp parsed")
	}
}

func TestClaimsMissing(t *testing.T) {
	c := NewClaims(map[string]any{"sub": "alice", "iss": "  ", "exp": nil})

	got := c.missing([]string{"sub", "iss", "exp", "aud"})
	if want := []string{"iss", "exp", "aud"}; !slices.Equal(got, want) {
		t.Fatalf("missing = %v, want %v", got, want)
	}
	if got := c.missing(nil); len(got) != 0 {
		t.Fatalf("nothing required, got %v", got)
	}
}
