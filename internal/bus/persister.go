package bus

import (
	"context"
	"encoding/json"

	"github.com/frameorchestrator/core/internal/models"
)

// registryHashKey is the durable mirror of the processor registry
// (spec.md §6.5), read back on orchestrator startup via LoadProcessors.
const registryHashKey = "processors:registry"

// RegistryPersister satisfies registry.Persister on top of a single Redis
// hash, mirroring the checkpoint-write pattern the teacher uses for
// resource manager state (engine/internal/resources/manager.go).
type RegistryPersister struct {
	client StreamClient
}

// NewRegistryPersister wraps a StreamClient as a registry.Persister.
func NewRegistryPersister(client StreamClient) *RegistryPersister {
	return &RegistryPersister{client: client}
}

// SaveProcessor writes the processor's info as a JSON blob under its id in
// the shared registry hash.
func (p *RegistryPersister) SaveProcessor(ctx context.Context, info models.ProcessorInfo) error {
	blob, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return classify(p.client.HSet(ctx, registryHashKey, info.ID, string(blob)).Err())
}

// DeleteProcessor removes a processor's entry from the registry hash.
func (p *RegistryPersister) DeleteProcessor(ctx context.Context, id string) error {
	return classify(p.client.HDel(ctx, registryHashKey, id).Err())
}

// LoadProcessors reconstructs every persisted processor at startup.
func (p *RegistryPersister) LoadProcessors(ctx context.Context) ([]models.ProcessorInfo, error) {
	raw, err := p.client.HGetAll(ctx, registryHashKey).Result()
	if err != nil {
		return nil, classify(err)
	}
	out := make([]models.ProcessorInfo, 0, len(raw))
	for _, blob := range raw {
		var info models.ProcessorInfo
		if err := json.Unmarshal([]byte(blob), &info); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}
