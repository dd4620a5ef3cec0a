package homepage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `---
- Infrastructure:
    - AdGuard Home:
        icon: adguard-home.svg
        href: https://adguard.domain.ext
        description: Network-wide ads & trackers blocking DNS server
    - NAS:
        href: {{HOMEPAGE_VAR_NAS_URL}}
        widget:
          type: truenas
`

func TestLoaderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg) != 1 || len(cfg[0]["Infrastructure"]) != 2 {
		t.Fatalf("unexpected structure: %+v", cfg)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load(); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoaderExpandsPlaceholders(t *testing.T) {
	env := map[string]string{"HOMEPAGE_VAR_NAS_URL": "https://nas.lan:5001"}
	l := &Loader{lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	cfg, err := l.Decode(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	nas := cfg[0]["Infrastructure"][1]["NAS"]
	if nas.Href != "https://nas.lan:5001" {
		t.Errorf("href = %q", nas.Href)
	}
	if nas.Widget["type"] != "truenas" {
		t.Errorf("widget = %v", nas.Widget)
	}
}

func TestExpand(t *testing.T) {
	l := &Loader{lookup: func(k string) (string, bool) {
		if k == "HOMEPAGE_VAR_QUOTED" {
			return `a "b": c`, true
		}
		return "", false
	}}

	tests := []struct {
		in, want string
	}{
		{"url: {{HOMEPAGE_VAR_MISSING}}", `url: ""`},
		{"url: {{ HOMEPAGE_VAR_QUOTED }}", `url: "a \"b\": c"`},
		{"plain text", "plain text"},
	}
	for _, tc := range tests {
		if got := string(l.expand([]byte(tc.in))); got != tc.want {
			t.Errorf("expand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecodeRejectsBadYAML(t *testing.T) {
	if _, err := NewLoader("").Decode(strings.NewReader("- [unclosed")); err == nil {
		t.Error("expected a parse error")
	}
}
