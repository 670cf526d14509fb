package docextract

import "testing"

func TestKindFromContentType(t *testing.T) {
	cases := []struct {
		ct   string
		want Kind
	}{
		{"application/pdf", KindPDF},
		{"application/pdf; charset=binary", KindPDF},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", KindDOCX},
		{"application/msword", KindDOCX},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", KindXLSX},
		{"application/vnd.ms-excel", KindXLSX},
		{"text/html; charset=utf-8", KindNone},
		{"", KindNone},
	}
	for _, c := range cases {
		if got := KindFromContentType(c.ct); got != c.want {
			t.Errorf("KindFromContentType(%q) = %v, want %v", c.ct, got, c.want)
		}
	}
}

func TestExtractText_UnsupportedKind(t *testing.T) {
	if _, err := ExtractText(KindNone, []byte("anything")); err == nil {
		t.Fatalf("expected error for KindNone")
	}
}

func TestCleanWhitespace(t *testing.T) {
	got := cleanWhitespace("  hello\n\n  world\t\tfoo  ")
	want := "hello world foo"
	if got != want {
		t.Fatalf("cleanWhitespace() = %q, want %q", got, want)
	}
}

func TestExtractXLSX_MalformedBytes(t *testing.T) {
	if _, err := extractXLSX([]byte("not a real xlsx file")); err == nil {
		t.Fatalf("expected error opening malformed xlsx bytes")
	}
}

func TestExtractPDF_MalformedBytes(t *testing.T) {
	if _, err := extractPDF([]byte("not a real pdf file")); err == nil {
		t.Fatalf("expected error opening malformed pdf bytes")
	}
}

func TestExtractDOCX_MalformedBytes(t *testing.T) {
	if _, err := extractDOCX([]byte("not a real docx file")); err == nil {
		t.Fatalf("expected error opening malformed docx bytes")
	}
}
