package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// fallbackFile serves secrets from a local file of "secret://name[?version=N]=value" lines
// when Secret Manager cannot be reached. The file is read once, on first use.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(canonical, version string) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	if v, ok := f.values[versionKey(canonical, version)]; ok {
		return v, true, nil
	}
	v, ok := f.values[canonical]
	return v, ok, nil
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", f.path, err)
		return
	}
	defer file.Close()

	values, err := parseFallback(file)
	if err != nil {
		f.err = fmt.Errorf("secrets: failed reading %s: %w", f.path, err)
		return
	}
	f.values = values
}

// parseFallback indexes each value by canonical reference and by reference plus version.
// Values may contain '='; lines that are not valid references are skipped.
func parseFallback(r io.Reader) (map[string]string, error) {
	out := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawRef, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := ParseReference(rawRef)
		if err != nil {
			continue
		}
		version := ref.Version
		if version == "" {
			version = latestVersion
		}
		value = strings.TrimSpace(value)
		out[ref.Canonical] = value
		out[versionKey(ref.Canonical, version)] = value
	}
	return out, scanner.Err()
}
