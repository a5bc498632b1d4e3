package adapters

import (
	"fmt"

	"nexus/internal/billing/domain"
	jsonx "nexus/internal/shared/json"
)

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := jsonx.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var metadata map[string]any
	if err := jsonx.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

// purchaseCredits returns the credits to grant for a completed payment. The
// package credits recorded at purchase time win; the event's value is only
// used for payments created without a package.
func purchaseCredits(stored, eventMetadata map[string]any) (int64, bool) {
	if credits, ok := domain.MetadataCredits(stored); ok {
		return credits, true
	}
	return domain.MetadataCredits(eventMetadata)
}

func purchaseMetadata(payment domain.Payment) map[string]any {
	metadata := map[string]any{"payment_id": payment.ID}
	if pkg, ok := payment.Metadata["package_id"]; ok {
		metadata["package_id"] = pkg
	}
	return metadata
}
