package marketplace

import (
	"strings"
	"testing"
)

func TestInlineImagesExactAndNormalizedPath(t *testing.T) {
	files := map[string][]byte{
		"assets/logo.png": []byte("data:image/png;base64,Zm9v"),
	}
	md := "See ![logo](assets/logo.png) and ![again](./assets/logo.png)."
	out := InlineImages(md, files)

	if strings.Contains(out, "(assets/logo.png)") || strings.Contains(out, "(./assets/logo.png)") {
		t.Fatalf("expected both references inlined, got: %s", out)
	}
	if strings.Count(out, "data:image/png;base64,Zm9v") != 2 {
		t.Fatalf("expected 2 inlined data URIs, got: %s", out)
	}
}

func TestInlineImagesMatchesByBasename(t *testing.T) {
	files := map[string][]byte{
		"files/nested/icon.png": []byte("data:image/png;base64,YWJj"),
	}
	md := "![icon](icon.png)"
	out := InlineImages(md, files)
	if !strings.Contains(out, "data:image/png;base64,YWJj") {
		t.Fatalf("expected basename match to inline, got: %s", out)
	}
}

func TestInlineImagesLeavesAbsoluteURLsAndDataURIsUnchanged(t *testing.T) {
	md := "![a](https://example.com/x.png) ![b](data:image/png;base64,zzz)"
	out := InlineImages(md, map[string][]byte{"x.png": []byte("data:image/png;base64,nope")})
	if out != md {
		t.Fatalf("expected no change, got: %s", out)
	}
}

func TestInlineImagesLeavesUnmatchedReferenceUnchanged(t *testing.T) {
	md := "![missing](no/such/file.png)"
	out := InlineImages(md, map[string][]byte{"other.png": []byte("data:image/png;base64,x")})
	if out != md {
		t.Fatalf("expected unmatched reference unchanged, got: %s", out)
	}
}
