package cluster

import (
	"context"
	"sync"

	"github.com/Ramsey-B/fern/pkg/models"
)

// MemoryRepository is an in-memory Storage implementation used by the
// evaluation harness and tests, where cluster state is per-run and
// disposable.
type MemoryRepository struct {
	mu       sync.RWMutex
	clusters map[string]*models.CanonicalEntity // tenant|cluster_id
	members  map[string]string                  // tenant|record_id -> cluster_id
	events   map[string]*models.MergeEvent      // tenant|idempotency_key
	byClust  map[string][]models.MergeEvent     // tenant|cluster_id, append order
}

// NewMemoryRepository creates an empty in-memory cluster store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clusters: make(map[string]*models.CanonicalEntity),
		members:  make(map[string]string),
		events:   make(map[string]*models.MergeEvent),
		byClust:  make(map[string][]models.MergeEvent),
	}
}

func (m *MemoryRepository) GetCluster(_ context.Context, tenantID, recordID string) (*models.CanonicalEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clusterID, ok := m.members[tenantID+"|"+recordID]
	if !ok {
		return nil, models.ErrNotFound
	}
	entity, ok := m.clusters[tenantID+"|"+clusterID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyEntity(entity), nil
}

func (m *MemoryRepository) UpsertCluster(_ context.Context, cluster *models.CanonicalEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clusters[cluster.TenantID+"|"+cluster.ID] = copyEntity(cluster)
	for _, recordID := range cluster.MemberIDs {
		m.members[cluster.TenantID+"|"+recordID] = cluster.ID
	}
	return nil
}

func (m *MemoryRepository) AppendMergeEvent(_ context.Context, event *models.MergeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := event.TenantID + "|" + event.IdempotencyKey
	if _, dup := m.events[key]; dup {
		return nil
	}
	stored := *event
	m.events[key] = &stored
	clustKey := event.TenantID + "|" + event.ClusterID
	m.byClust[clustKey] = append(m.byClust[clustKey], stored)
	return nil
}

func (m *MemoryRepository) GetMergeEvent(_ context.Context, tenantID, idempotencyKey string) (*models.MergeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, ok := m.events[tenantID+"|"+idempotencyKey]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *event
	return &out, nil
}

func (m *MemoryRepository) ListMergeEvents(_ context.Context, tenantID, clusterID string) ([]models.MergeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.byClust[tenantID+"|"+clusterID]
	out := make([]models.MergeEvent, len(events))
	copy(out, events)
	return out, nil
}

func copyEntity(e *models.CanonicalEntity) *models.CanonicalEntity {
	out := *e
	out.MemberIDs = append([]string(nil), e.MemberIDs...)
	out.Representative = append([]byte(nil), e.Representative...)
	return &out
}
