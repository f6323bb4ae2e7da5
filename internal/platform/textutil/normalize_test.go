package textutil

import "testing"

func TestFold(t *testing.T) {
	cases := map[string]string{
		"  Champaña  Brut ": "champana brut",
		"TEQUILA Añejo":     "tequila anejo",
		"":                  "",
		"   ":               "",
		"Crème de Cassis":   "creme de cassis",
	}
	for input, want := range cases {
		if got := Fold(input); got != want {
			t.Errorf("Fold(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("Ron Bacardí, 750ml / Toronja")
	want := []string{"ron", "bacardi", "750ml", "toronja"}
	if len(got) != len(want) {
		t.Fatalf("Tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokens = %v, want %v", got, want)
		}
	}
	if Tokens("  ") != nil {
		t.Fatalf("expected nil tokens for blank input")
	}
}

func TestContainsEither(t *testing.T) {
	if !ContainsEither("johnnie walker", "walker") || !ContainsEither("walker", "johnnie walker") {
		t.Fatalf("expected substring match in both directions")
	}
	if ContainsEither("", "walker") || ContainsEither("walker", "") {
		t.Fatalf("empty strings must never match")
	}
}

func TestPlainText(t *testing.T) {
	got := PlainText("<b>faltan</b>   dos &amp; <script>x</script>tres", 0)
	if got != "faltan dos & tres" {
		t.Fatalf("unexpected sanitized text %q", got)
	}
	if got := PlainText("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation, got %q", got)
	}
}
