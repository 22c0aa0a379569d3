package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/document"
)

// MemoryStore implements Store in memory.
// Writers are serialized by a single mutex; a failed Update replays its undo journal.
type MemoryStore struct {
	mu sync.RWMutex

	workOrders  map[string]*contracts.WorkOrder
	snapshots   map[string]*contracts.ContractSnapshot
	snapshotsBy map[string][]string // work order -> ids in version order
	evidence    map[string]*contracts.EvidenceItem
	links       map[string]*contracts.FieldEvidenceLink
	linkTuples  map[string]string // LinkKey -> id
	rulesRuns   map[string][]*contracts.RulesRun
	packs       map[string]*contracts.ReportPack
	jobs        map[string]*contracts.GenerationJob
	jobKeys     map[string]string // tenant|key -> id
	releases    map[string]*contracts.DeliverableRelease
	releaseKeys map[string]string
	releasesBy  map[string][]string
	comments    map[string][]*contracts.Comment
	seq         int64
	evidenceSeq map[string]int64
	features    Features
}

// NewMemoryStore creates an empty store with every feature enabled.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workOrders:  make(map[string]*contracts.WorkOrder),
		snapshots:   make(map[string]*contracts.ContractSnapshot),
		snapshotsBy: make(map[string][]string),
		evidence:    make(map[string]*contracts.EvidenceItem),
		links:       make(map[string]*contracts.FieldEvidenceLink),
		linkTuples:  make(map[string]string),
		rulesRuns:   make(map[string][]*contracts.RulesRun),
		packs:       make(map[string]*contracts.ReportPack),
		jobs:        make(map[string]*contracts.GenerationJob),
		jobKeys:     make(map[string]string),
		releases:    make(map[string]*contracts.DeliverableRelease),
		releaseKeys: make(map[string]string),
		releasesBy:  make(map[string][]string),
		comments:    make(map[string][]*contracts.Comment),
		evidenceSeq: make(map[string]int64),
		features:    AllFeatures(),
	}
}

// WithFeatures overrides the advertised features.
func (s *MemoryStore) WithFeatures(f Features) *MemoryStore {
	s.features = f
	return s
}

func (s *MemoryStore) Features() Features { return s.features }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, writable: true}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{s: s})
}

type memTx struct {
	s        *MemoryStore
	writable bool
	undo     []func()
}

func (t *memTx) write() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func (t *memTx) onRollback(f func()) { t.undo = append(t.undo, f) }

func (t *memTx) nextSeq() int64 {
	t.s.seq++
	return t.s.seq
}

// --- work orders ---

func (t *memTx) GetWorkOrder(_ context.Context, id string) (*contracts.WorkOrder, error) {
	wo, ok := t.s.workOrders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return wo.Clone(), nil
}

func (t *memTx) LockWorkOrder(ctx context.Context, id string) (*contracts.WorkOrder, error) {
	return t.GetWorkOrder(ctx, id)
}

func (t *memTx) InsertWorkOrder(_ context.Context, wo *contracts.WorkOrder) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.s.workOrders[wo.ID]; ok {
		return ErrDuplicate
	}
	t.s.workOrders[wo.ID] = wo.Clone()
	t.onRollback(func() { delete(t.s.workOrders, wo.ID) })
	return nil
}

func (t *memTx) UpdateWorkOrder(_ context.Context, wo *contracts.WorkOrder) error {
	if err := t.write(); err != nil {
		return err
	}
	prev, ok := t.s.workOrders[wo.ID]
	if !ok {
		return ErrNotFound
	}
	t.s.workOrders[wo.ID] = wo.Clone()
	t.onRollback(func() { t.s.workOrders[wo.ID] = prev })
	return nil
}

func (t *memTx) ListWorkOrders(_ context.Context, f WorkOrderFilter) ([]*contracts.WorkOrder, error) {
	var out []*contracts.WorkOrder
	for _, wo := range t.s.workOrders {
		if f.TenantID != "" && wo.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && wo.Status != f.Status {
			continue
		}
		out = append(out, wo.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, f.Limit, f.Offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// --- snapshots & rules runs ---

func (t *memTx) LatestSnapshot(_ context.Context, workOrderID string) (*contracts.ContractSnapshot, error) {
	ids := t.s.snapshotsBy[workOrderID]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return cloneSnapshot(t.s.snapshots[ids[len(ids)-1]]), nil
}

func (t *memTx) LatestSnapshotOfKind(_ context.Context, workOrderID string, kind contracts.SnapshotKind) (*contracts.ContractSnapshot, error) {
	ids := t.s.snapshotsBy[workOrderID]
	for i := len(ids) - 1; i >= 0; i-- {
		if s := t.s.snapshots[ids[i]]; s.Kind == kind {
			return cloneSnapshot(s), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) GetSnapshot(_ context.Context, id string) (*contracts.ContractSnapshot, error) {
	s, ok := t.s.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSnapshot(s), nil
}

func (t *memTx) InsertSnapshot(_ context.Context, snap *contracts.ContractSnapshot) error {
	if err := t.write(); err != nil {
		return err
	}
	ids := t.s.snapshotsBy[snap.WorkOrderID]
	for _, id := range ids {
		if t.s.snapshots[id].Version == snap.Version {
			return ErrDuplicate
		}
	}
	if _, ok := t.s.snapshots[snap.ID]; ok {
		return ErrDuplicate
	}
	t.s.snapshots[snap.ID] = cloneSnapshot(snap)
	next := append(append([]string{}, ids...), snap.ID)
	sort.SliceStable(next, func(i, j int) bool {
		return t.s.snapshots[next[i]].Version < t.s.snapshots[next[j]].Version
	})
	t.s.snapshotsBy[snap.WorkOrderID] = next
	t.onRollback(func() {
		delete(t.s.snapshots, snap.ID)
		t.s.snapshotsBy[snap.WorkOrderID] = ids
	})
	return nil
}

func (t *memTx) ListSnapshots(_ context.Context, workOrderID string) ([]*contracts.ContractSnapshot, error) {
	ids := t.s.snapshotsBy[workOrderID]
	out := make([]*contracts.ContractSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneSnapshot(t.s.snapshots[id]))
	}
	return out, nil
}

func (t *memTx) InsertRulesRun(_ context.Context, r *contracts.RulesRun) error {
	if err := t.write(); err != nil {
		return err
	}
	prev := t.s.rulesRuns[r.WorkOrderID]
	c := *r
	c.Warnings = append([]contracts.Issue{}, r.Warnings...)
	c.Errors = append([]contracts.Issue{}, r.Errors...)
	t.s.rulesRuns[r.WorkOrderID] = append(append([]*contracts.RulesRun{}, prev...), &c)
	t.onRollback(func() { t.s.rulesRuns[r.WorkOrderID] = prev })
	return nil
}

func (t *memTx) ListRulesRuns(_ context.Context, workOrderID string) ([]*contracts.RulesRun, error) {
	runs := t.s.rulesRuns[workOrderID]
	out := make([]*contracts.RulesRun, 0, len(runs))
	for _, r := range runs {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// --- evidence & links ---

func (t *memTx) UpsertEvidence(_ context.Context, e *contracts.EvidenceItem) error {
	if err := t.write(); err != nil {
		return err
	}
	prev, existed := t.s.evidence[e.ID]
	if existed && prev.WorkOrderID != e.WorkOrderID {
		return ErrDuplicate
	}
	t.s.evidence[e.ID] = cloneEvidence(e)
	if !existed {
		t.s.evidenceSeq[e.ID] = t.nextSeq()
	}
	t.onRollback(func() {
		if existed {
			t.s.evidence[e.ID] = prev
			return
		}
		delete(t.s.evidence, e.ID)
		delete(t.s.evidenceSeq, e.ID)
	})
	return nil
}

func (t *memTx) GetEvidence(_ context.Context, id string) (*contracts.EvidenceItem, error) {
	e, ok := t.s.evidence[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEvidence(e), nil
}

func (t *memTx) ListEvidence(_ context.Context, workOrderID string) ([]*contracts.EvidenceItem, error) {
	var out []*contracts.EvidenceItem
	for _, e := range t.s.evidence {
		if e.WorkOrderID == workOrderID {
			out = append(out, cloneEvidence(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return t.s.evidenceSeq[out[i].ID] < t.s.evidenceSeq[out[j].ID]
	})
	return out, nil
}

func (t *memTx) UpsertLink(_ context.Context, l *contracts.FieldEvidenceLink) (*contracts.FieldEvidenceLink, error) {
	if err := t.write(); err != nil {
		return nil, err
	}
	if !t.s.features.FieldEvidenceLinks {
		return nil, ErrUnsupported
	}
	if id, ok := t.s.linkTuples[l.LinkKey()]; ok {
		c := *t.s.links[id]
		return &c, nil
	}
	if _, ok := t.s.links[l.ID]; ok {
		return nil, ErrDuplicate
	}
	c := *l
	t.s.links[l.ID] = &c
	t.s.linkTuples[l.LinkKey()] = l.ID
	t.onRollback(func() {
		delete(t.s.links, l.ID)
		delete(t.s.linkTuples, l.LinkKey())
	})
	out := c
	return &out, nil
}

func (t *memTx) DeleteLink(_ context.Context, workOrderID, linkID string) error {
	if err := t.write(); err != nil {
		return err
	}
	if !t.s.features.FieldEvidenceLinks {
		return ErrUnsupported
	}
	l, ok := t.s.links[linkID]
	if !ok || l.WorkOrderID != workOrderID {
		return ErrNotFound
	}
	delete(t.s.links, linkID)
	delete(t.s.linkTuples, l.LinkKey())
	t.onRollback(func() {
		t.s.links[linkID] = l
		t.s.linkTuples[l.LinkKey()] = linkID
	})
	return nil
}

func (t *memTx) ListLinks(_ context.Context, workOrderID, snapshotID string) ([]*contracts.FieldEvidenceLink, error) {
	var out []*contracts.FieldEvidenceLink
	for _, l := range t.s.links {
		if l.WorkOrderID != workOrderID || (snapshotID != "" && l.SnapshotID != snapshotID) {
			continue
		}
		c := *l
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- packs & jobs ---

func (t *memTx) InsertPack(_ context.Context, p *contracts.ReportPack) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.s.packs[p.ID]; ok {
		return ErrDuplicate
	}
	t.s.packs[p.ID] = clonePack(p)
	t.onRollback(func() { delete(t.s.packs, p.ID) })
	return nil
}

func (t *memTx) GetPack(_ context.Context, id string) (*contracts.ReportPack, error) {
	p, ok := t.s.packs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePack(p), nil
}

func (t *memTx) UpdatePackStatus(_ context.Context, id string, status contracts.PackStatus, at time.Time) error {
	if err := t.write(); err != nil {
		return err
	}
	prev, ok := t.s.packs[id]
	if !ok {
		return ErrNotFound
	}
	next := clonePack(prev)
	next.Status, next.UpdatedAt = status, at
	t.s.packs[id] = next
	t.onRollback(func() { t.s.packs[id] = prev })
	return nil
}

func (t *memTx) InsertArtifact(_ context.Context, a *contracts.PackArtifact) error {
	if err := t.write(); err != nil {
		return err
	}
	prev, ok := t.s.packs[a.PackID]
	if !ok {
		return ErrNotFound
	}
	next := clonePack(prev)
	next.Artifacts = append(next.Artifacts, *a)
	t.s.packs[a.PackID] = next
	t.onRollback(func() { t.s.packs[a.PackID] = prev })
	return nil
}

func (t *memTx) InsertJob(_ context.Context, j *contracts.GenerationJob) (*contracts.GenerationJob, bool, error) {
	if err := t.write(); err != nil {
		return nil, false, err
	}
	key := j.TenantID + "|" + j.IdempotencyKey
	if id, ok := t.s.jobKeys[key]; ok {
		return cloneJob(t.s.jobs[id]), false, nil
	}
	if _, ok := t.s.jobs[j.ID]; ok {
		return nil, false, ErrDuplicate
	}
	t.s.jobs[j.ID] = cloneJob(j)
	t.s.jobKeys[key] = j.ID
	t.onRollback(func() {
		delete(t.s.jobs, j.ID)
		delete(t.s.jobKeys, key)
	})
	return cloneJob(j), true, nil
}

func (t *memTx) GetJob(_ context.Context, id string) (*contracts.GenerationJob, error) {
	j, ok := t.s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (t *memTx) LockJob(ctx context.Context, id string) (*contracts.GenerationJob, error) {
	return t.GetJob(ctx, id)
}

func (t *memTx) GetJobByKey(_ context.Context, tenantID, key string) (*contracts.GenerationJob, error) {
	id, ok := t.s.jobKeys[tenantID+"|"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(t.s.jobs[id]), nil
}

func (t *memTx) JobForPack(_ context.Context, packID string) (*contracts.GenerationJob, error) {
	var found *contracts.GenerationJob
	for _, j := range t.s.jobs {
		if j.PackID != packID {
			continue
		}
		if found == nil || j.CreatedAt.Before(found.CreatedAt) {
			found = j
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return cloneJob(found), nil
}

func (t *memTx) UpdateJob(_ context.Context, j *contracts.GenerationJob) error {
	if err := t.write(); err != nil {
		return err
	}
	prev, ok := t.s.jobs[j.ID]
	if !ok {
		return ErrNotFound
	}
	t.s.jobs[j.ID] = cloneJob(j)
	t.onRollback(func() { t.s.jobs[j.ID] = prev })
	return nil
}

// --- releases & comments ---

func (t *memTx) InsertRelease(_ context.Context, r *contracts.DeliverableRelease) (*contracts.DeliverableRelease, bool, error) {
	if err := t.write(); err != nil {
		return nil, false, err
	}
	key := r.TenantID + "|" + r.IdempotencyKey
	if id, ok := t.s.releaseKeys[key]; ok {
		return cloneRelease(t.s.releases[id]), false, nil
	}
	t.s.releases[r.ID] = cloneRelease(r)
	t.s.releaseKeys[key] = r.ID
	prevBy := t.s.releasesBy[r.WorkOrderID]
	t.s.releasesBy[r.WorkOrderID] = append(append([]string{}, prevBy...), r.ID)
	t.onRollback(func() {
		delete(t.s.releases, r.ID)
		delete(t.s.releaseKeys, key)
		t.s.releasesBy[r.WorkOrderID] = prevBy
	})
	return cloneRelease(r), true, nil
}

func (t *memTx) GetReleaseByKey(_ context.Context, tenantID, key string) (*contracts.DeliverableRelease, error) {
	id, ok := t.s.releaseKeys[tenantID+"|"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRelease(t.s.releases[id]), nil
}

func (t *memTx) ListReleases(_ context.Context, workOrderID string) ([]*contracts.DeliverableRelease, error) {
	ids := t.s.releasesBy[workOrderID]
	out := make([]*contracts.DeliverableRelease, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRelease(t.s.releases[id]))
	}
	return out, nil
}

func (t *memTx) InsertComment(_ context.Context, c *contracts.Comment) error {
	if err := t.write(); err != nil {
		return err
	}
	if !t.s.features.Comments {
		return ErrUnsupported
	}
	prev := t.s.comments[c.WorkOrderID]
	cc := *c
	t.s.comments[c.WorkOrderID] = append(append([]*contracts.Comment{}, prev...), &cc)
	t.onRollback(func() { t.s.comments[c.WorkOrderID] = prev })
	return nil
}

func (t *memTx) ListComments(_ context.Context, workOrderID string) ([]*contracts.Comment, error) {
	src := t.s.comments[workOrderID]
	out := make([]*contracts.Comment, 0, len(src))
	for _, c := range src {
		cc := *c
		out = append(out, &cc)
	}
	return out, nil
}

// --- clones ---

func cloneSnapshot(s *contracts.ContractSnapshot) *contracts.ContractSnapshot {
	c := *s
	c.Contract = document.Clone(s.Contract)
	c.Derived = document.Clone(s.Derived)
	if s.Readiness != nil {
		r := cloneReadiness(*s.Readiness)
		c.Readiness = &r
	}
	return &c
}

func cloneReadiness(r contracts.Readiness) contracts.Readiness {
	c := r
	c.MissingFields = append([]string{}, r.MissingFields...)
	c.MissingEvidence = append([]string{}, r.MissingEvidence...)
	c.MissingFieldEvidenceLinks = append([]string{}, r.MissingFieldEvidenceLinks...)
	c.Warnings = append([]string{}, r.Warnings...)
	c.RequiredEvidenceMinimums = make(map[string]int, len(r.RequiredEvidenceMinimums))
	for k, v := range r.RequiredEvidenceMinimums {
		c.RequiredEvidenceMinimums[k] = v
	}
	return c
}

func cloneEvidence(e *contracts.EvidenceItem) *contracts.EvidenceItem {
	c := *e
	if e.Tags != nil {
		c.Tags = make(map[string]string, len(e.Tags))
		for k, v := range e.Tags {
			c.Tags[k] = v
		}
	}
	if e.AnnexureOrder != nil {
		n := *e.AnnexureOrder
		c.AnnexureOrder = &n
	}
	if e.CapturedAt != nil {
		at := *e.CapturedAt
		c.CapturedAt = &at
	}
	return &c
}

func clonePack(p *contracts.ReportPack) *contracts.ReportPack {
	c := *p
	c.Warnings = append([]string(nil), p.Warnings...)
	c.ContextSnapshot = append(json.RawMessage(nil), p.ContextSnapshot...)
	c.Artifacts = append([]contracts.PackArtifact(nil), p.Artifacts...)
	return &c
}

func cloneJob(j *contracts.GenerationJob) *contracts.GenerationJob {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	return &c
}

func cloneRelease(r *contracts.DeliverableRelease) *contracts.DeliverableRelease {
	c := *r
	if r.Metadata != nil {
		c.Metadata = document.Clone(r.Metadata)
	}
	return &c
}
