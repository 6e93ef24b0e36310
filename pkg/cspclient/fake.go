package cspclient

import "context"

// Fake is an in-memory Client double for unit tests of code that calls
// cspclient.Client, letting tests control exactly which external IDs are
// reported active and which destroy calls fail.
type Fake struct {
	Active      []ActiveSandbox
	FailDestroy map[string]error
	Destroyed   []string
}

func (f *Fake) ListActiveSandboxes(context.Context) ([]ActiveSandbox, error) {
	return f.Active, nil
}

func (f *Fake) Destroy(_ context.Context, externalID string) error {
	if err, ok := f.FailDestroy[externalID]; ok {
		return err
	}
	f.Destroyed = append(f.Destroyed, externalID)
	return nil
}
