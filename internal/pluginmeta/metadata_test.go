package pluginmeta

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toruai/steering-plugins/internal/errs"
)

// writeFakeBinary writes an executable shell script at <dir>/<id>.binary
// that prints the given metadata JSON on --metadata.
func writeFakeBinary(t *testing.T, dir, id, payload string) string {
	t.Helper()
	path := filepath.Join(dir, id+BinarySuffix)
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--metadata\" ]; then\n" +
		"  printf '%s'\n" +
		"  exit 0\n" +
		"fi\n" +
		"exit 1\n"
	script = fmt.Sprintf(script, payload)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestLoad_ValidDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeBinary(t, dir, "hello", `{"id":"hello","name":"Hello","version":"0.1","route":"/hello"}`)

	m, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "hello", m.ID)
	require.Equal(t, "/hello", m.Route)
}

func TestLoad_IDMismatchWithFilename(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeBinary(t, dir, "hello", `{"id":"other","name":"Hello","version":"0.1","route":"/hello"}`)

	_, err := Load(context.Background(), path)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.BadPlugin, e.Kind)
}

func TestLoad_BadIDRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeBinary(t, dir, "evil", `{"id":"../evil","name":"Evil","version":"0.1","route":"/evil"}`)

	_, err := Load(context.Background(), path)
	require.Error(t, err)
}

func TestLoad_RouteTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeBinary(t, dir, "hello", `{"id":"hello","name":"Hello","version":"0.1","route":"/hello/../admin"}`)

	_, err := Load(context.Background(), path)
	require.Error(t, err)
}

func TestLoad_MissingRequiredFieldRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeBinary(t, dir, "hello", `{"name":"Hello","version":"0.1"}`)

	_, err := Load(context.Background(), path)
	require.Error(t, err)
}

func TestValidateDescriptor_SingleHyphenRejected(t *testing.T) {
	err := validateDescriptor(Metadata{ID: "-", Route: "/x"})
	require.Error(t, err)
}
