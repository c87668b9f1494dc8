package bigquery

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/invoice-verifier/internal/audit"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"google.golang.org/api/iterator"
)

const auditEntryColumns = `seq, record_id, invoice_id, vendor_name, department, period, amount,
		currency, invoice_date, verdict, risk_score, record_json, verdict_json,
		committed_at, prev_hash, hash`

// AuditStore keeps audit entries in the audit_entries table.
type AuditStore struct {
	client *Client
}

// NewAuditStore creates an audit store on client's dataset.
func NewAuditStore(client *Client) *AuditStore {
	return &AuditStore{client: client}
}

// Append streams one entry. The sequence number doubles as the insert ID,
// so a retried append after an ambiguous failure is deduplicated.
func (s *AuditStore) Append(ctx context.Context, e domain.AuditEntry) error {
	row, err := toAuditEntryRow(e)
	if err != nil {
		return fmt.Errorf("AuditStore.Append: %w", err)
	}
	saver := &bigquery.StructSaver{Struct: row, InsertID: "seq-" + strconv.FormatUint(e.Seq, 10)}
	if err := s.client.table(auditEntriesTable).Inserter().Put(ctx, saver); err != nil {
		return fmt.Errorf("AuditStore.Append: inserting row: %w", err)
	}
	return nil
}

// Scan yields entries with seq <= upTo in ascending order.
func (s *AuditStore) Scan(ctx context.Context, upTo uint64) iter.Seq2[domain.AuditEntry, error] {
	return func(yield func(domain.AuditEntry, error) bool) {
		if upTo == 0 {
			return
		}
		q := s.client.bq.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE seq <= @up_to
		ORDER BY seq
	`, auditEntryColumns, s.client.qualified(auditEntriesTable)))
		q.Parameters = []bigquery.QueryParameter{
			{Name: "up_to", Value: int64(upTo)},
		}

		it, err := q.Read(ctx)
		if err != nil {
			yield(domain.AuditEntry{}, fmt.Errorf("AuditStore.Scan: query read: %w", err))
			return
		}
		for {
			var row AuditEntryRow
			err := it.Next(&row)
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield(domain.AuditEntry{}, fmt.Errorf("AuditStore.Scan: iter next: %w", err))
				return
			}
			e, err := row.toEntry()
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Last returns the entry with the highest sequence number.
func (s *AuditStore) Last(ctx context.Context) (domain.AuditEntry, bool, error) {
	q := s.client.bq.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		ORDER BY seq DESC
		LIMIT 1
	`, auditEntryColumns, s.client.qualified(auditEntriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return domain.AuditEntry{}, false, fmt.Errorf("AuditStore.Last: query read: %w", err)
	}
	var row AuditEntryRow
	err = it.Next(&row)
	if err == iterator.Done {
		return domain.AuditEntry{}, false, nil
	}
	if err != nil {
		return domain.AuditEntry{}, false, fmt.Errorf("AuditStore.Last: iter next: %w", err)
	}
	e, err := row.toEntry()
	if err != nil {
		return domain.AuditEntry{}, false, err
	}
	return e, true, nil
}

var _ audit.Store = (*AuditStore)(nil)
