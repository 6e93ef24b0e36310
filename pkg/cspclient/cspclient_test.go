package cspclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestMockClientServesFixture(t *testing.T) {
	path := writeFixture(t, `
sandboxes:
  - sandbox_id: sb-1
    external_id: ext-1
    name: sandbox-a
  - sandbox_id: sb-2
    external_id: ext-2
    name: sandbox-b
`)

	client, err := New(Config{APIToken: "mock", FixturePath: path})
	require.NoError(t, err)

	active, err := client.ListActiveSandboxes(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestMockClientDestroyRemovesFromActive(t *testing.T) {
	path := writeFixture(t, `
sandboxes:
  - sandbox_id: sb-1
    external_id: ext-1
    name: sandbox-a
`)

	client, err := New(Config{APIToken: "mock", FixturePath: path})
	require.NoError(t, err)

	require.NoError(t, client.Destroy(context.Background(), "ext-1"))

	active, err := client.ListActiveSandboxes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestNewReturnsHTTPClientWithoutMockToken(t *testing.T) {
	client, err := New(Config{BaseURL: "https://csp.example.com", APIToken: "real-token"})
	require.NoError(t, err)

	_, ok := client.(*httpClient)
	assert.True(t, ok)
}
