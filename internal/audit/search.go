// Package audit provides operator-facing tooling over the trace trail: a
// full-text index of trace explanations and hash-chain verification.
package audit

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/maitre-labs/raison/internal/reasoning"
)

// traceDoc is what gets indexed per trace entry.
type traceDoc struct {
	WorkspaceID string `json:"workspace_id"`
	Step        string `json:"step"`
	Explanation string `json:"explanation"`
	CreatedBy   string `json:"created_by"`
}

// Hit is one search result.
type Hit struct {
	TraceID     string  `json:"trace_id"`
	WorkspaceID string  `json:"workspace_id"`
	Score       float64 `json:"score"`
}

// TraceIndex is an in-memory full-text index over trace entries, partitioned
// by tenant: each tenant gets its own bleve index, so a query can only ever
// match that tenant's traces. It is rebuilt from the store on demand; the
// store remains the source of truth.
type TraceIndex struct {
	mu      sync.RWMutex
	tenants map[string]bleve.Index

	workspaces map[string]string // trace id -> workspace id
}

// NewTraceIndex creates an empty index. Per-tenant partitions are created on
// first Add.
func NewTraceIndex() (*TraceIndex, error) {
	return &TraceIndex{
		tenants:    make(map[string]bleve.Index),
		workspaces: make(map[string]string),
	}, nil
}

// tenantIndex returns the tenant's partition, creating it if needed. Caller
// holds the write lock.
func (t *TraceIndex) tenantIndex(tenantID string) (bleve.Index, error) {
	if idx, ok := t.tenants[tenantID]; ok {
		return idx, nil
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create trace index for tenant %s: %w", tenantID, err)
	}
	t.tenants[tenantID] = idx
	return idx, nil
}

// Add indexes one trace entry under the given tenant. Re-adding the same id
// is a no-op overwrite, so rebuilds are idempotent.
func (t *TraceIndex) Add(tenantID string, tr reasoning.ReasoningTrace) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, err := t.tenantIndex(tenantID)
	if err != nil {
		return err
	}
	doc := traceDoc{
		WorkspaceID: tr.WorkspaceID,
		Step:        tr.Step,
		Explanation: tr.Explanation,
		CreatedBy:   tr.CreatedBy,
	}
	if err := idx.Index(tr.ID, doc); err != nil {
		return fmt.Errorf("index trace %s: %w", tr.ID, err)
	}
	t.workspaces[tr.ID] = tr.WorkspaceID
	return nil
}

// AddAll indexes a batch of traces under the given tenant.
func (t *TraceIndex) AddAll(tenantID string, traces []reasoning.ReasoningTrace) error {
	for _, tr := range traces {
		if err := t.Add(tenantID, tr); err != nil {
			return err
		}
	}
	return nil
}

// Search runs a query-string search over the tenant's indexed traces. A
// tenant with no partition yet gets empty results, never an error.
func (t *TraceIndex) Search(tenantID, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.tenants[tenantID]
	if !ok {
		return []Hit{}, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search traces: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{
			TraceID:     h.ID,
			WorkspaceID: t.workspaces[h.ID],
			Score:       h.Score,
		})
	}
	return hits, nil
}

// Count returns the number of traces indexed for the tenant.
func (t *TraceIndex) Count(tenantID string) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.tenants[tenantID]
	if !ok {
		return 0, nil
	}
	return idx.DocCount()
}
