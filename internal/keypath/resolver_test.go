package keypath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDefaultPattern(t *testing.T) {
	root := t.TempDir()
	resolver, err := NewResolver(root, "")
	require.NoError(t, err)

	path, err := resolver.Resolve("audio/clip-1.ogg")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "audio", "clip-1.ogg"), path)
}

func TestResolveSprigHelpers(t *testing.T) {
	root := t.TempDir()
	resolver, err := NewResolver(root, `{{ .Key | lower | replace ":" "/" }}.bin`)
	require.NoError(t, err)

	path, err := resolver.Resolve("Lesson:Intro")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "lesson", "intro.bin"), path)
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	resolver, err := NewResolver(root, "")
	require.NoError(t, err)

	_, err = resolver.Resolve("../../etc/passwd")
	require.Error(t, err)
}

func TestResolveRejectsEmptyRender(t *testing.T) {
	root := t.TempDir()
	resolver, err := NewResolver(root, `{{ "" }}`)
	require.NoError(t, err)

	_, err = resolver.Resolve("anything")
	require.Error(t, err)
}

func TestNewResolverRestrictedHelpersUnavailable(t *testing.T) {
	root := t.TempDir()
	_, err := NewResolver(root, `{{ env "HOME" }}/{{ .Key }}`)
	require.Error(t, err, "environment helpers are stripped from the func map")
}

func TestNewResolverRequiresRoot(t *testing.T) {
	_, err := NewResolver("  ", "")
	require.Error(t, err)
}

func TestNewResolverRejectsBadPattern(t *testing.T) {
	_, err := NewResolver(t.TempDir(), "{{ .Key")
	require.Error(t, err)
}
