// Package pluginmeta implements the metadata loader (C5): invoking a
// plugin binary in metadata mode and validating the returned descriptor
// against every invariant in spec.md §3.
package pluginmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/toruai/steering-plugins/internal/errs"
)

// MetadataDeadline is the wall-clock deadline for a --metadata invocation (spec §4.3).
const MetadataDeadline = 5 * time.Second

// MaxDescriptorBytes is the recommended size bound on the full metadata JSON (spec §3).
const MaxDescriptorBytes = 64 * 1024

// BinarySuffix is the extension plugin executables are discovered by (spec §6).
const BinarySuffix = ".binary"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Metadata is the PluginMetadata descriptor of spec.md §3.
type Metadata struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Route   string `json:"route"`
}

var schemaLoader = gojsonschema.NewStringLoader(descriptorSchema)

// Load executes binaryPath with "--metadata", parses and validates the
// resulting descriptor, and confirms the id matches the binary's filename
// stem. Any failure is returned as a *errs.Error of kind BadPlugin naming
// which rule failed.
func Load(ctx context.Context, binaryPath string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, MetadataDeadline)
	defer cancel()

	cmd := exec.CommandContext(ctx, binaryPath, "--metadata")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Metadata{}, errs.Wrap(errs.BadPlugin, "", "metadata invocation timed out", err)
		}
		return Metadata{}, errs.Wrap(errs.BadPlugin, "", "metadata invocation exited non-zero: "+stderr.String(), err)
	}

	raw := stdout.Bytes()
	if len(raw) > MaxDescriptorBytes {
		return Metadata{}, errs.New(errs.BadPlugin, "", "metadata JSON exceeds size bound")
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Metadata{}, errs.Wrap(errs.BadPlugin, "", "metadata is not valid JSON", err)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return Metadata{}, errs.New(errs.BadPlugin, "", "metadata schema violation: "+strings.Join(reasons, "; "))
	}

	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, errs.Wrap(errs.BadPlugin, "", "metadata failed to decode", err)
	}

	if err := validateDescriptor(m); err != nil {
		return Metadata{}, err
	}

	stem := strings.TrimSuffix(filepath.Base(binaryPath), BinarySuffix)
	if m.ID != stem {
		return Metadata{}, errs.New(errs.BadPlugin, m.ID, fmt.Sprintf("id %q does not match binary filename stem %q", m.ID, stem))
	}

	return m, nil
}

// validateDescriptor applies the invariants of spec.md §3 that gojsonschema's
// regex/length checks cannot express directly (route traversal, non-empty id
// containing at least one alphanumeric character).
func validateDescriptor(m Metadata) error {
	if !idPattern.MatchString(m.ID) {
		return errs.New(errs.BadPlugin, m.ID, "id must match [A-Za-z0-9-]+")
	}
	if !hasAlphanumeric(m.ID) {
		return errs.New(errs.BadPlugin, m.ID, "id must contain at least one alphanumeric character")
	}
	if !strings.HasPrefix(m.Route, "/") {
		return errs.New(errs.BadPlugin, m.ID, "route must begin with /")
	}
	if strings.Contains(m.Route, "..") {
		return errs.New(errs.BadPlugin, m.ID, "route must not contain a .. segment")
	}
	if utf8.RuneCountInString(m.Name) > 100 {
		return errs.New(errs.BadPlugin, m.ID, "name exceeds 100 characters")
	}
	if utf8.RuneCountInString(m.Author) > 100 {
		return errs.New(errs.BadPlugin, m.ID, "author exceeds 100 characters")
	}
	return nil
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}
