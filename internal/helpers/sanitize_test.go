package helpers

import "testing"

func TestPlainText_RemovesTagsAndScripts(t *testing.T) {
	input := `<p>EPA <i>reduced</i> TG<script>alert('x')</script></p>`
	got := PlainText(input)
	want := "EPA reduced TG"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPlainText_DecodesEntities(t *testing.T) {
	got := PlainText("p &lt; 0.05 for n&#x3D;120")
	want := "p < 0.05 for n=120"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPlainText_CollapsesWhitespace(t *testing.T) {
	got := PlainText("  Omega-3\n\n  and   mood \t")
	want := "Omega-3 and mood"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if PlainText("   ") != "" {
		t.Fatalf("expected empty string for blank input")
	}
}
