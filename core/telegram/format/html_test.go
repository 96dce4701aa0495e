package format

import "testing"

func TestHTMLHelpers(t *testing.T) {
	if got := Bold("a<b"); got != "<b>a&lt;b</b>" {
		t.Fatalf("Bold = %q", got)
	}
	if got := Link("order", ""); got != "order" {
		t.Fatalf("Link without href = %q", got)
	}
	if got := Link("x", "https://e.test/?a=1&b=2"); got != `<a href="https://e.test/?a=1&amp;b=2">x</a>` {
		t.Fatalf("Link = %q", got)
	}
	if got := Lines("a", "", "b"); got != "a\nb" {
		t.Fatalf("Lines = %q", got)
	}
}
