package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

type sqlTx struct {
	tx       *sql.Tx
	dialect  Dialect
	features Features
	readOnly bool
}

func (t *sqlTx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *sqlTx) ts(v time.Time) any {
	if t.dialect == SQLite {
		return v.UTC().Format(sqliteTime)
	}
	return v.UTC()
}

func (t *sqlTx) tsPtr(v *time.Time) any {
	if v == nil {
		return nil
	}
	return t.ts(*v)
}

func (t *sqlTx) forUpdate() string {
	if t.dialect == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// seq orders rows by insertion.
func (t *sqlTx) seq() string {
	if t.dialect == SQLite {
		return "rowid"
	}
	return "seq"
}

func (t *sqlTx) requireLinks() error {
	if !t.features.FieldEvidenceLinks {
		return ErrUnsupported
	}
	return nil
}

func (t *sqlTx) requireComments() error {
	if !t.features.Comments {
		return ErrUnsupported
	}
	return nil
}

// --- work orders ---

const workOrderColumns = `id, tenant_id, source_kind, source_external_ref_id, source_assignment_id,
	report_type, bank_name, bank_type, value_slab, template_selector, status,
	evidence_profile_id, pack_id, billing, created_by, created_at, updated_at`

func scanWorkOrder(row scanner) (*contracts.WorkOrder, error) {
	var (
		wo                                 contracts.WorkOrder
		extRef, assignment, slab, selector sql.NullString
		profile, pack                      sql.NullString
		billing                            []byte
		createdAt, updatedAt               dbTime
	)
	err := row.Scan(&wo.ID, &wo.TenantID, &wo.Source.Kind, &extRef, &assignment,
		&wo.ReportType, &wo.BankName, &wo.BankType, &slab, &selector, &wo.Status,
		&profile, &pack, &billing, &wo.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	wo.Source.ExternalRefID, wo.Source.AssignmentID = extRef.String, assignment.String
	wo.ValueSlab, wo.TemplateSelector = slab.String, selector.String
	wo.EvidenceProfileID, wo.PackID = profile.String, pack.String
	wo.CreatedAt, wo.UpdatedAt = createdAt.Time, updatedAt.Time
	if err := decodeJSON(billing, &wo.Billing); err != nil {
		return nil, err
	}
	return &wo, nil
}

func (t *sqlTx) GetWorkOrder(ctx context.Context, id string) (*contracts.WorkOrder, error) {
	return scanWorkOrder(t.tx.QueryRowContext(ctx,
		"SELECT "+workOrderColumns+" FROM work_orders WHERE id = $1", id))
}

func (t *sqlTx) LockWorkOrder(ctx context.Context, id string) (*contracts.WorkOrder, error) {
	return scanWorkOrder(t.tx.QueryRowContext(ctx,
		"SELECT "+workOrderColumns+" FROM work_orders WHERE id = $1"+t.forUpdate(), id))
}

func (t *sqlTx) InsertWorkOrder(ctx context.Context, wo *contracts.WorkOrder) error {
	if err := t.write(); err != nil {
		return err
	}
	billing, err := json.Marshal(wo.Billing)
	if err != nil {
		return fmt.Errorf("store: encode billing: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO work_orders (`+workOrderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`,
		wo.ID, wo.TenantID, string(wo.Source.Kind), nullString(wo.Source.ExternalRefID), nullString(wo.Source.AssignmentID),
		wo.ReportType, wo.BankName, wo.BankType, nullString(wo.ValueSlab), nullString(wo.TemplateSelector), string(wo.Status),
		nullString(wo.EvidenceProfileID), nullString(wo.PackID), string(billing), wo.CreatedBy, t.ts(wo.CreatedAt), t.ts(wo.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert work order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (t *sqlTx) UpdateWorkOrder(ctx context.Context, wo *contracts.WorkOrder) error {
	if err := t.write(); err != nil {
		return err
	}
	billing, err := json.Marshal(wo.Billing)
	if err != nil {
		return fmt.Errorf("store: encode billing: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE work_orders SET value_slab = $1, template_selector = $2, status = $3,
			evidence_profile_id = $4, pack_id = $5, billing = $6, updated_at = $7
		WHERE id = $8`,
		nullString(wo.ValueSlab), nullString(wo.TemplateSelector), string(wo.Status),
		nullString(wo.EvidenceProfileID), nullString(wo.PackID), string(billing), t.ts(wo.UpdatedAt), wo.ID)
	if err != nil {
		return fmt.Errorf("store: update work order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) ListWorkOrders(ctx context.Context, f WorkOrderFilter) ([]*contracts.WorkOrder, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.TenantID != "" {
		where = append(where, "tenant_id = "+arg(f.TenantID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	q := "SELECT " + workOrderColumns + " FROM work_orders"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 && t.dialect == SQLite {
			q += " LIMIT -1"
		}
		q += " OFFSET " + arg(f.Offset)
	}

	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list work orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

// --- snapshots ---

const snapshotColumns = "id, work_order_id, version, kind, contract, derived, readiness, created_by, created_at"

func scanSnapshot(row scanner) (*contracts.ContractSnapshot, error) {
	var (
		s                           contracts.ContractSnapshot
		contract, derived, readyRaw []byte
		createdAt                   dbTime
	)
	if err := row.Scan(&s.ID, &s.WorkOrderID, &s.Version, &s.Kind, &contract, &derived, &readyRaw, &s.CreatedBy, &createdAt); err != nil {
		return nil, notFound(err)
	}
	s.CreatedAt = createdAt.Time
	if err := decodeJSON(contract, &s.Contract); err != nil {
		return nil, err
	}
	if err := decodeJSON(derived, &s.Derived); err != nil {
		return nil, err
	}
	if len(readyRaw) > 0 && string(readyRaw) != "null" {
		var r contracts.Readiness
		if err := decodeJSON(readyRaw, &r); err != nil {
			return nil, err
		}
		s.Readiness = &r
	}
	return &s, nil
}

func (t *sqlTx) querySnapshots(ctx context.Context, q string, args ...any) ([]*contracts.ContractSnapshot, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*contracts.ContractSnapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *sqlTx) LatestSnapshot(ctx context.Context, workOrderID string) (*contracts.ContractSnapshot, error) {
	return scanSnapshot(t.tx.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM contract_snapshots WHERE work_order_id = $1 ORDER BY version DESC LIMIT 1",
		workOrderID))
}

func (t *sqlTx) LatestSnapshotOfKind(ctx context.Context, workOrderID string, kind contracts.SnapshotKind) (*contracts.ContractSnapshot, error) {
	return scanSnapshot(t.tx.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM contract_snapshots WHERE work_order_id = $1 AND kind = $2 ORDER BY version DESC LIMIT 1",
		workOrderID, string(kind)))
}

func (t *sqlTx) GetSnapshot(ctx context.Context, id string) (*contracts.ContractSnapshot, error) {
	return scanSnapshot(t.tx.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM contract_snapshots WHERE id = $1", id))
}

func (t *sqlTx) InsertSnapshot(ctx context.Context, s *contracts.ContractSnapshot) error {
	if err := t.write(); err != nil {
		return err
	}
	contract, err := json.Marshal(s.Contract)
	if err != nil {
		return fmt.Errorf("store: encode contract: %w", err)
	}
	derived, err := jsonArg(s.Derived)
	if err != nil {
		return err
	}
	var readiness any
	if s.Readiness != nil {
		if readiness, err = jsonArg(s.Readiness); err != nil {
			return err
		}
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO contract_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (work_order_id, version) DO NOTHING`,
		s.ID, s.WorkOrderID, s.Version, string(s.Kind), string(contract), derived, readiness, s.CreatedBy, t.ts(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (t *sqlTx) ListSnapshots(ctx context.Context, workOrderID string) ([]*contracts.ContractSnapshot, error) {
	return t.querySnapshots(ctx,
		"SELECT "+snapshotColumns+" FROM contract_snapshots WHERE work_order_id = $1 ORDER BY version", workOrderID)
}

// --- rules runs ---

func (t *sqlTx) InsertRulesRun(ctx context.Context, r *contracts.RulesRun) error {
	if err := t.write(); err != nil {
		return err
	}
	warnings, err := json.Marshal(nonNilIssues(r.Warnings))
	if err != nil {
		return fmt.Errorf("store: encode warnings: %w", err)
	}
	errs, err := json.Marshal(nonNilIssues(r.Errors))
	if err != nil {
		return fmt.Errorf("store: encode errors: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO rules_runs (id, work_order_id, input_snapshot_id, output_snapshot_id, ruleset_version, warnings, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.WorkOrderID, r.InputSnapshotID, r.OutputSnapshotID, r.RulesetVersion, string(warnings), string(errs), t.ts(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert rules run: %w", err)
	}
	return nil
}

func nonNilIssues(in []contracts.Issue) []contracts.Issue {
	if in == nil {
		return []contracts.Issue{}
	}
	return in
}

func (t *sqlTx) ListRulesRuns(ctx context.Context, workOrderID string) ([]*contracts.RulesRun, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT r.id, r.work_order_id, r.input_snapshot_id, r.output_snapshot_id, r.ruleset_version, r.warnings, r.errors, r.created_at
		FROM rules_runs r
		LEFT JOIN contract_snapshots s ON s.id = r.output_snapshot_id
		WHERE r.work_order_id = $1
		ORDER BY s.version, r.created_at, r.id`, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("store: list rules runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*contracts.RulesRun{}
	for rows.Next() {
		var (
			r              contracts.RulesRun
			warnings, errs []byte
			createdAt      dbTime
		)
		if err := rows.Scan(&r.ID, &r.WorkOrderID, &r.InputSnapshotID, &r.OutputSnapshotID, &r.RulesetVersion, &warnings, &errs, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = createdAt.Time
		if err := decodeJSON(warnings, &r.Warnings); err != nil {
			return nil, err
		}
		if err := decodeJSON(errs, &r.Errors); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- evidence ---

const evidenceColumns = `id, work_order_id, evidence_type, doc_type, classification, sensitivity, source,
	document_id, file_ref, captured_by, captured_at, annexure_order, tags, status, created_at, updated_at`

func scanEvidence(row scanner) (*contracts.EvidenceItem, error) {
	var (
		e                                contracts.EvidenceItem
		docType, class, sens, source     sql.NullString
		documentID, fileRef, capturedBy  sql.NullString
		capturedAt, createdAt, updatedAt dbTime
		annexure                         sql.NullInt64
		tags                             []byte
	)
	err := row.Scan(&e.ID, &e.WorkOrderID, &e.EvidenceType, &docType, &class, &sens, &source,
		&documentID, &fileRef, &capturedBy, &capturedAt, &annexure, &tags, &e.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	e.DocType, e.Classification, e.Sensitivity, e.Source = docType.String, class.String, sens.String, source.String
	e.DocumentID, e.FileRef, e.CapturedBy = documentID.String, fileRef.String, capturedBy.String
	e.CapturedAt = capturedAt.ptr()
	e.CreatedAt, e.UpdatedAt = createdAt.Time, updatedAt.Time
	if annexure.Valid {
		n := int(annexure.Int64)
		e.AnnexureOrder = &n
	}
	if err := decodeJSON(tags, &e.Tags); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *sqlTx) UpsertEvidence(ctx context.Context, e *contracts.EvidenceItem) error {
	if err := t.write(); err != nil {
		return err
	}
	tags, err := jsonArg(e.Tags)
	if err != nil {
		return err
	}
	var annexure sql.NullInt64
	if e.AnnexureOrder != nil {
		annexure = sql.NullInt64{Int64: int64(*e.AnnexureOrder), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO evidence_items (`+evidenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			evidence_type = excluded.evidence_type,
			doc_type = excluded.doc_type,
			classification = excluded.classification,
			sensitivity = excluded.sensitivity,
			source = excluded.source,
			document_id = excluded.document_id,
			file_ref = excluded.file_ref,
			captured_by = excluded.captured_by,
			captured_at = excluded.captured_at,
			annexure_order = excluded.annexure_order,
			tags = excluded.tags,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE evidence_items.work_order_id = excluded.work_order_id`,
		e.ID, e.WorkOrderID, string(e.EvidenceType), nullString(e.DocType), nullString(e.Classification),
		nullString(e.Sensitivity), nullString(e.Source), nullString(e.DocumentID), nullString(e.FileRef),
		nullString(e.CapturedBy), t.tsPtr(e.CapturedAt), annexure, tags, string(e.Status),
		t.ts(e.CreatedAt), t.ts(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert evidence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (t *sqlTx) GetEvidence(ctx context.Context, id string) (*contracts.EvidenceItem, error) {
	return scanEvidence(t.tx.QueryRowContext(ctx,
		"SELECT "+evidenceColumns+" FROM evidence_items WHERE id = $1", id))
}

func (t *sqlTx) ListEvidence(ctx context.Context, workOrderID string) ([]*contracts.EvidenceItem, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+evidenceColumns+" FROM evidence_items WHERE work_order_id = $1 ORDER BY "+t.seq(), workOrderID)
	if err != nil {
		return nil, fmt.Errorf("store: list evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.EvidenceItem
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- field evidence links ---

const linkColumns = "id, work_order_id, snapshot_id, field_key, evidence_item_id, confidence, note, created_by, created_at"

func scanLink(row scanner) (*contracts.FieldEvidenceLink, error) {
	var (
		l          contracts.FieldEvidenceLink
		confidence sql.NullFloat64
		note       sql.NullString
		createdAt  dbTime
	)
	if err := row.Scan(&l.ID, &l.WorkOrderID, &l.SnapshotID, &l.FieldKey, &l.EvidenceItemID, &confidence, &note, &l.CreatedBy, &createdAt); err != nil {
		return nil, notFound(err)
	}
	if confidence.Valid {
		c := confidence.Float64
		l.Confidence = &c
	}
	l.Note, l.CreatedAt = note.String, createdAt.Time
	return &l, nil
}

func (t *sqlTx) UpsertLink(ctx context.Context, l *contracts.FieldEvidenceLink) (*contracts.FieldEvidenceLink, error) {
	if err := t.write(); err != nil {
		return nil, err
	}
	if err := t.requireLinks(); err != nil {
		return nil, err
	}
	var confidence sql.NullFloat64
	if l.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *l.Confidence, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO field_evidence_links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (work_order_id, snapshot_id, field_key, evidence_item_id) DO NOTHING`,
		l.ID, l.WorkOrderID, l.SnapshotID, l.FieldKey, l.EvidenceItemID, confidence, nullString(l.Note), l.CreatedBy, t.ts(l.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: insert link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		c := *l
		return &c, nil
	}
	return scanLink(t.tx.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM field_evidence_links
		WHERE work_order_id = $1 AND snapshot_id = $2 AND field_key = $3 AND evidence_item_id = $4`,
		l.WorkOrderID, l.SnapshotID, l.FieldKey, l.EvidenceItemID))
}

func (t *sqlTx) DeleteLink(ctx context.Context, workOrderID, linkID string) error {
	if err := t.write(); err != nil {
		return err
	}
	if err := t.requireLinks(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM field_evidence_links WHERE id = $1 AND work_order_id = $2", linkID, workOrderID)
	if err != nil {
		return fmt.Errorf("store: delete link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) ListLinks(ctx context.Context, workOrderID, snapshotID string) ([]*contracts.FieldEvidenceLink, error) {
	if !t.features.FieldEvidenceLinks {
		return nil, nil
	}
	q := "SELECT " + linkColumns + " FROM field_evidence_links WHERE work_order_id = $1"
	args := []any{workOrderID}
	if snapshotID != "" {
		q += " AND snapshot_id = $2"
		args = append(args, snapshotID)
	}
	rows, err := t.tx.QueryContext(ctx, q+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("store: list links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.FieldEvidenceLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- packs & artifacts ---

const packColumns = "id, tenant_id, work_order_id, template_id, family, version, status, warnings, context_snapshot, created_at, updated_at"

func (t *sqlTx) InsertPack(ctx context.Context, p *contracts.ReportPack) error {
	if err := t.write(); err != nil {
		return err
	}
	warnings, err := jsonArg(p.Warnings)
	if err != nil {
		return err
	}
	snapshot, err := jsonArg(p.ContextSnapshot)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO report_packs (`+packColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.TenantID, nullString(p.WorkOrderID), p.TemplateID, p.Family, p.Version, string(p.Status),
		warnings, snapshot, t.ts(p.CreatedAt), t.ts(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert pack: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	for i := range p.Artifacts {
		if err := t.InsertArtifact(ctx, &p.Artifacts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) GetPack(ctx context.Context, id string) (*contracts.ReportPack, error) {
	var (
		p                    contracts.ReportPack
		workOrderID          sql.NullString
		warnings, snapshot   []byte
		createdAt, updatedAt dbTime
	)
	err := t.tx.QueryRowContext(ctx, "SELECT "+packColumns+" FROM report_packs WHERE id = $1", id).Scan(
		&p.ID, &p.TenantID, &workOrderID, &p.TemplateID, &p.Family, &p.Version, &p.Status,
		&warnings, &snapshot, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.WorkOrderID, p.CreatedAt, p.UpdatedAt = workOrderID.String, createdAt.Time, updatedAt.Time
	if err := decodeJSON(warnings, &p.Warnings); err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		p.ContextSnapshot = json.RawMessage(append([]byte(nil), snapshot...))
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, pack_id, kind, storage_key, content_hash, size_bytes, created_at
		FROM pack_artifacts WHERE pack_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			a  contracts.PackArtifact
			at dbTime
		)
		if err := rows.Scan(&a.ID, &a.PackID, &a.Kind, &a.StorageKey, &a.ContentHash, &a.SizeBytes, &at); err != nil {
			return nil, err
		}
		a.CreatedAt = at.Time
		p.Artifacts = append(p.Artifacts, a)
	}
	return &p, rows.Err()
}

func (t *sqlTx) UpdatePackStatus(ctx context.Context, id string, status contracts.PackStatus, at time.Time) error {
	if err := t.write(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		"UPDATE report_packs SET status = $1, updated_at = $2 WHERE id = $3", string(status), t.ts(at), id)
	if err != nil {
		return fmt.Errorf("store: update pack: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) InsertArtifact(ctx context.Context, a *contracts.PackArtifact) error {
	if err := t.write(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pack_artifacts (id, pack_id, kind, storage_key, content_hash, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.PackID, string(a.Kind), a.StorageKey, a.ContentHash, a.SizeBytes, t.ts(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert artifact: %w", err)
	}
	return nil
}

// --- jobs ---

const jobColumns = "id, tenant_id, idempotency_key, status, attempts, error_message, pack_id, payload, created_at, updated_at"

func scanJob(row scanner) (*contracts.GenerationJob, error) {
	var (
		j                    contracts.GenerationJob
		errMsg               sql.NullString
		payload              []byte
		createdAt, updatedAt dbTime
	)
	err := row.Scan(&j.ID, &j.TenantID, &j.IdempotencyKey, &j.Status, &j.Attempts, &errMsg, &j.PackID, &payload, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	j.ErrorMessage, j.CreatedAt, j.UpdatedAt = errMsg.String, createdAt.Time, updatedAt.Time
	if len(payload) > 0 {
		j.Payload = json.RawMessage(append([]byte(nil), payload...))
	}
	return &j, nil
}

func (t *sqlTx) InsertJob(ctx context.Context, j *contracts.GenerationJob) (*contracts.GenerationJob, bool, error) {
	if err := t.write(); err != nil {
		return nil, false, err
	}
	payload, err := jsonArg(j.Payload)
	if err != nil {
		return nil, false, err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		j.ID, j.TenantID, j.IdempotencyKey, string(j.Status), j.Attempts, nullString(j.ErrorMessage), j.PackID,
		payload, t.ts(j.CreatedAt), t.ts(j.UpdatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("store: insert job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		c := *j
		return &c, true, nil
	}
	existing, err := t.GetJobByKey(ctx, j.TenantID, j.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (t *sqlTx) GetJob(ctx context.Context, id string) (*contracts.GenerationJob, error) {
	return scanJob(t.tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM generation_jobs WHERE id = $1", id))
}

func (t *sqlTx) LockJob(ctx context.Context, id string) (*contracts.GenerationJob, error) {
	return scanJob(t.tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM generation_jobs WHERE id = $1"+t.forUpdate(), id))
}

func (t *sqlTx) GetJobByKey(ctx context.Context, tenantID, key string) (*contracts.GenerationJob, error) {
	return scanJob(t.tx.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM generation_jobs WHERE tenant_id = $1 AND idempotency_key = $2", tenantID, key))
}

func (t *sqlTx) JobForPack(ctx context.Context, packID string) (*contracts.GenerationJob, error) {
	return scanJob(t.tx.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM generation_jobs WHERE pack_id = $1 ORDER BY created_at, id LIMIT 1", packID))
}

func (t *sqlTx) UpdateJob(ctx context.Context, j *contracts.GenerationJob) error {
	if err := t.write(); err != nil {
		return err
	}
	payload, err := jsonArg(j.Payload)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE generation_jobs SET status = $1, attempts = $2, error_message = $3, pack_id = $4, payload = $5, updated_at = $6
		WHERE id = $7`,
		string(j.Status), j.Attempts, nullString(j.ErrorMessage), j.PackID, payload, t.ts(j.UpdatedAt), j.ID)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- releases ---

const releaseColumns = `id, tenant_id, work_order_id, pack_id, released_by, released_at, billing_mode,
	gate_result, override_reason, idempotency_key, ledger_ref, metadata`

func scanRelease(row scanner) (*contracts.DeliverableRelease, error) {
	var (
		r                 contracts.DeliverableRelease
		reason, ledgerRef sql.NullString
		metadata          []byte
		releasedAt        dbTime
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.WorkOrderID, &r.PackID, &r.ReleasedBy, &releasedAt, &r.BillingMode,
		&r.GateResult, &reason, &r.IdempotencyKey, &ledgerRef, &metadata)
	if err != nil {
		return nil, notFound(err)
	}
	r.ReleasedAt, r.OverrideReason, r.LedgerRef = releasedAt.Time, reason.String, ledgerRef.String
	if err := decodeJSON(metadata, &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *sqlTx) InsertRelease(ctx context.Context, r *contracts.DeliverableRelease) (*contracts.DeliverableRelease, bool, error) {
	if err := t.write(); err != nil {
		return nil, false, err
	}
	metadata, err := jsonArg(r.Metadata)
	if err != nil {
		return nil, false, err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO deliverable_releases (`+releaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		r.ID, r.TenantID, r.WorkOrderID, r.PackID, r.ReleasedBy, t.ts(r.ReleasedAt), string(r.BillingMode),
		string(r.GateResult), nullString(r.OverrideReason), r.IdempotencyKey, nullString(r.LedgerRef), metadata)
	if err != nil {
		return nil, false, fmt.Errorf("store: insert release: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		c := *r
		return &c, true, nil
	}
	existing, err := t.GetReleaseByKey(ctx, r.TenantID, r.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (t *sqlTx) GetReleaseByKey(ctx context.Context, tenantID, key string) (*contracts.DeliverableRelease, error) {
	return scanRelease(t.tx.QueryRowContext(ctx,
		"SELECT "+releaseColumns+" FROM deliverable_releases WHERE tenant_id = $1 AND idempotency_key = $2", tenantID, key))
}

func (t *sqlTx) ListReleases(ctx context.Context, workOrderID string) ([]*contracts.DeliverableRelease, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+releaseColumns+" FROM deliverable_releases WHERE work_order_id = $1 ORDER BY "+t.seq(), workOrderID)
	if err != nil {
		return nil, fmt.Errorf("store: list releases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*contracts.DeliverableRelease{}
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- comments ---

func (t *sqlTx) InsertComment(ctx context.Context, c *contracts.Comment) error {
	if err := t.write(); err != nil {
		return err
	}
	if err := t.requireComments(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO work_order_comments (id, work_order_id, author, body, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.WorkOrderID, c.Author, c.Body, string(c.Kind), t.ts(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert comment: %w", err)
	}
	return nil
}

func (t *sqlTx) ListComments(ctx context.Context, workOrderID string) ([]*contracts.Comment, error) {
	if !t.features.Comments {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx,
		"SELECT id, work_order_id, author, body, kind, created_at FROM work_order_comments WHERE work_order_id = $1 ORDER BY "+t.seq(),
		workOrderID)
	if err != nil {
		return nil, fmt.Errorf("store: list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*contracts.Comment{}
	for rows.Next() {
		var (
			c  contracts.Comment
			at dbTime
		)
		if err := rows.Scan(&c.ID, &c.WorkOrderID, &c.Author, &c.Body, &c.Kind, &at); err != nil {
			return nil, err
		}
		c.CreatedAt = at.Time
		out = append(out, &c)
	}
	return out, rows.Err()
}
