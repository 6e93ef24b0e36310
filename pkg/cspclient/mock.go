package cspclient

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// fixture is the on-disk shape of the mock inventory file.
type fixture struct {
	Sandboxes []ActiveSandbox `yaml:"sandboxes"`
}

// mockClient serves a YAML fixture in place of the real CSP API, for local
// development and tests that want to exercise the sync/cleanup loops
// without network access.
type mockClient struct {
	mu        sync.Mutex
	active    map[string]ActiveSandbox
	destroyed map[string]bool
}

func newMockClient(fixturePath string) (*mockClient, error) {
	c := &mockClient{
		active:    make(map[string]ActiveSandbox),
		destroyed: make(map[string]bool),
	}

	if fixturePath == "" {
		return c, nil
	}

	data, err := os.ReadFile(fixturePath)
	if err != nil {
		return nil, fmt.Errorf("cspclient: read fixture %s: %w", fixturePath, err)
	}

	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cspclient: parse fixture %s: %w", fixturePath, err)
	}
	for _, sb := range f.Sandboxes {
		if sb.SandboxID == "" {
			sb.SandboxID = sb.ExternalID
		}
		c.active[sb.ExternalID] = sb
	}
	return c, nil
}

func (c *mockClient) ListActiveSandboxes(context.Context) ([]ActiveSandbox, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ActiveSandbox, 0, len(c.active))
	for _, sb := range c.active {
		out = append(out, sb)
	}
	return out, nil
}

func (c *mockClient) Destroy(_ context.Context, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.active, externalID)
	c.destroyed[externalID] = true
	return nil
}
