package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/invoice-verifier/internal/ledger"
	"google.golang.org/api/iterator"
)

// LedgerJournal keeps budget commits in the ledger_commits table.
type LedgerJournal struct {
	client *Client
}

// NewLedgerJournal creates a ledger journal on client's dataset.
func NewLedgerJournal(client *Client) *LedgerJournal {
	return &LedgerJournal{client: client}
}

// Append streams one commit.
func (j *LedgerJournal) Append(ctx context.Context, e ledger.JournalEntry) error {
	row := toLedgerCommitRow(e)
	saver := &bigquery.StructSaver{Struct: row, InsertID: row.insertID()}
	if err := j.client.table(ledgerCommitsTable).Inserter().Put(ctx, saver); err != nil {
		return fmt.Errorf("LedgerJournal.Append: inserting row: %w", err)
	}
	return nil
}

// Load returns every commit in commit order.
func (j *LedgerJournal) Load(ctx context.Context) ([]ledger.JournalEntry, error) {
	q := j.client.bq.Query(fmt.Sprintf(`
		SELECT commit_id, record_id, department, period, vendor_name, amount, committed_at
		FROM %s
		ORDER BY committed_at, commit_id
	`, j.client.qualified(ledgerCommitsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LedgerJournal.Load: query read: %w", err)
	}

	var entries []ledger.JournalEntry
	for {
		var row LedgerCommitRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LedgerJournal.Load: iter next: %w", err)
		}
		e, err := row.toJournalEntry()
		if err != nil {
			return nil, fmt.Errorf("LedgerJournal.Load: commit %s: %w", row.CommitID, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var _ ledger.Journal = (*LedgerJournal)(nil)
