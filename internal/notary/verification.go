package notary

import (
	"errors"

	"notary.mini/notary/internal/kvstore"
	"notary.mini/notary/internal/types"
)

// VerificationService answers read-only notarization queries.
type VerificationService struct {
	registry *HashRegistry
	ledger   *SignatureLedger
}

func NewVerificationService(registry *HashRegistry, ledger *SignatureLedger) *VerificationService {
	return &VerificationService{registry: registry, ledger: ledger}
}

// Verify reports whether fp is notarized. A fingerprint that was never
// committed is a normal result with Exists=false, not an error.
func (v *VerificationService) Verify(rd kvstore.Reader, fp types.Fingerprint) (types.VerificationResult, error) {
	rec, err := v.registry.Get(rd, fp)
	if errors.Is(err, ErrNotFound) {
		return types.VerificationResult{Signatures: []types.Endorsement{}}, nil
	}
	if err != nil {
		return types.VerificationResult{}, err
	}
	sigs, err := v.ledger.scan(rd, fp)
	if err != nil {
		return types.VerificationResult{}, err
	}
	return types.VerificationResult{Exists: true, Record: &rec, Signatures: sigs}, nil
}
