package util

import "testing"

func TestContentKeyForBytes_Deterministic(t *testing.T) {
	a := ContentKeyForBytes([]byte("lecture notes"))
	b := ContentKeyForBytes([]byte("lecture notes"))
	if a != b {
		t.Errorf("identical bytes produced different keys: %q vs %q", a, b)
	}

	c := ContentKeyForBytes([]byte("lecture notes v2"))
	if a == c {
		t.Error("different bytes produced the same key")
	}
}

func TestContentKeyForURL(t *testing.T) {
	key1, domain, err := ContentKeyForURL("https://example.com/course/intro/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain != "example.com" {
		t.Errorf("expected domain example.com, got %q", domain)
	}

	// Trailing slash and scheme case are trivial variations.
	key2, _, err := ContentKeyForURL("HTTPS://example.com/course/intro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key1 != key2 {
		t.Errorf("trivial URL variations produced different keys: %q vs %q", key1, key2)
	}

	key3, _, err := ContentKeyForURL("https://example.com/course/advanced")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key1 == key3 {
		t.Error("different paths produced the same key")
	}
}

func TestContentKeyForURL_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "no scheme", input: "example.com/page"},
		{name: "ftp scheme", input: "ftp://example.com/file"},
		{name: "no host", input: "https:///page"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ContentKeyForURL(tc.input); err == nil {
				t.Errorf("expected error for %q", tc.input)
			}
		})
	}
}
