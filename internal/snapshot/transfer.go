package snapshot

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/solatis/sievefold/internal/identity"
	"github.com/solatis/sievefold/internal/ruleio"
	"github.com/solatis/sievefold/internal/types"
)

// Export writes a verified capture document to path.
func (m *Manager) Export(ctx context.Context, fsys afero.Fs, id types.CaptureID, path string) error {
	c, err := m.Load(ctx, id)
	if err != nil {
		return err
	}
	data, err := types.EncodeCapture(c)
	if err != nil {
		return err
	}
	return ruleio.WriteFileAtomic(fsys, path, append(data, '\n'))
}

// Import reads an exported capture, verifies its checksum and stores its
// rules as a new capture. The imported document's id is not reused.
func (m *Manager) Import(ctx context.Context, fsys afero.Fs, path string) (*types.Capture, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	doc, err := types.DecodeCapture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if actual := identity.Checksum(doc.Rules); actual != doc.Checksum {
		return nil, &types.IntegrityError{CaptureID: doc.ID, Expected: doc.Checksum, Actual: actual}
	}

	return m.CreateCapture(ctx, CaptureInput{
		Rules:       doc.Rules,
		Account:     doc.Metadata.Account,
		SieveScript: doc.SieveScript,
	})
}
