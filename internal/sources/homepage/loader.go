package homepage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// maxFileSize caps how much of a services file is read.
const maxFileSize = 4 << 20

// templateVar matches Homepage placeholders such as {{HOMEPAGE_VAR_NAS_URL}}.
var templateVar = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Loader reads a Homepage services.yaml.
type Loader struct {
	path   string
	lookup func(string) (string, bool)
}

func NewLoader(path string) *Loader {
	return &Loader{path: path, lookup: os.LookupEnv}
}

// Load reads and decodes the file. Placeholders are resolved from the
// environment the way Homepage does; unknown ones become empty strings and
// the entries that depended on them are dropped by the mapper.
func (l *Loader) Load() (ServicesConfig, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open services file: %w", err)
	}
	defer f.Close()

	return l.Decode(io.LimitReader(f, maxFileSize))
}

// Decode parses services.yaml content from r.
func (l *Loader) Decode(r io.Reader) (ServicesConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(l.expand(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse services yaml: %w", err)
	}
	return cfg, nil
}

// expand substitutes placeholders with quoted values so the result stays
// valid YAML whatever the variable holds.
func (l *Loader) expand(data []byte) []byte {
	return templateVar.ReplaceAllFunc(data, func(m []byte) []byte {
		name := templateVar.FindSubmatch(m)[1]
		val, _ := l.lookup(string(bytes.TrimSpace(name)))
		return []byte(strconv.Quote(val))
	})
}
