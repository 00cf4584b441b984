package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
)

// Partitioner splits entity storage between the low-churn static partition
// and the high-churn counter partition, and merges both halves back into one
// record on bulk read. A counter mutation therefore never retransmits the
// entity's name, price or image.
type Partitioner struct {
	store port.RemoteStore
}

func NewPartitioner(store port.RemoteStore) *Partitioner {
	return &Partitioner{store: store}
}

func (p *Partitioner) WriteStatic(ctx context.Context, id string, static domain.StaticFields) error {
	raw, err := json.Marshal(static)
	if err != nil {
		return fmt.Errorf("encode static fields for %s: %w", id, err)
	}
	return p.store.Write(ctx, staticPath(id), raw)
}

func (p *Partitioner) WriteCounter(ctx context.Context, id string, value int) error {
	return p.store.Write(ctx, counterPath(id), encodeCounter(value))
}

func (p *Partitioner) ReadStatic(ctx context.Context, id string) (*domain.StaticFields, error) {
	raw, err := p.store.Read(ctx, staticPath(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var static domain.StaticFields
	if err := json.Unmarshal(raw, &static); err != nil {
		return nil, fmt.Errorf("decode static fields for %s: %w", id, err)
	}
	return &static, nil
}

// DeleteEntity removes both halves of an entity in one batch.
func (p *Partitioner) DeleteEntity(ctx context.Context, id string) error {
	return p.store.Update(ctx, map[string]json.RawMessage{
		staticPath(id):  nil,
		counterPath(id): nil,
	})
}

// LoadAll bulk-reads both partitions and merges them by key. A missing
// counter entry defaults to 0 for records written before partitioning; a
// counter entry with no static half is a data-integrity violation reported
// alongside the merged set, never silently dropped.
func (p *Partitioner) LoadAll(ctx context.Context) ([]domain.Entity, []*domain.IntegrityError, error) {
	statics, err := p.store.ReadChildren(ctx, staticPartitionPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load static partition: %w", err)
	}
	counters, err := p.store.ReadChildren(ctx, counterPartitionPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load counter partition: %w", err)
	}

	entities := make([]domain.Entity, 0, len(statics))
	var violations []*domain.IntegrityError
	for id, raw := range statics {
		var static domain.StaticFields
		if err := json.Unmarshal(raw, &static); err != nil {
			violations = append(violations, &domain.IntegrityError{
				EntityID: id,
				Detail:   fmt.Sprintf("undecodable static record: %v", err),
			})
			continue
		}
		ent := domain.Entity{ID: id, Static: static}
		if craw, ok := counters[id]; ok {
			v, err := decodeCounter(craw)
			if err != nil {
				violations = append(violations, &domain.IntegrityError{
					EntityID: id,
					Detail:   fmt.Sprintf("undecodable counter value: %v", err),
				})
			} else {
				ent.CounterValue = v
			}
		}
		entities = append(entities, ent)
	}

	for id := range counters {
		if _, ok := statics[id]; !ok {
			violations = append(violations, &domain.IntegrityError{
				EntityID: id,
				Detail:   "counter entry without a static entry",
			})
		}
	}
	return entities, violations, nil
}

func encodeCounter(value int) json.RawMessage {
	return json.RawMessage(strconv.Itoa(value))
}

func decodeCounter(raw json.RawMessage) (int, error) {
	if raw == nil {
		return 0, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}
