package persistence_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"TickVault/internal/persistence"
	"TickVault/internal/testutil"
)

func TestEventWriterRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	writer := persistence.NewEventWriter(db)

	// Empty log sentinels.
	seq, err := writer.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if seq != -1 {
		t.Fatalf("empty log sequence = %d, want -1", seq)
	}
	if hash, err := writer.LatestHash(ctx); err != nil || hash != nil {
		t.Fatalf("empty log hash = %v, %v, want nil, nil", hash, err)
	}

	hasher := persistence.NewStateHasher()
	rows := make([]persistence.EventRow, 0, 3)
	for i := int64(1); i <= 3; i++ {
		payload := []byte(fmt.Sprintf(`{"seq":%d}`, i))
		prev := hasher.PrevHash()
		h := hasher.ComputeHash(i, payload)
		rows = append(rows, persistence.EventRow{
			Sequence:  i,
			Kind:      1,
			KindName:  "deposit_initiated",
			Payload:   payload,
			StateHash: h[:],
			PrevHash:  prev[:],
			Timestamp: 1_700_000_000 + i,
		})
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteBatch(ctx, tx, rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A replayed batch is absorbed by the sequence conflict clause.
	tx, _ = db.BeginTx(ctx, nil)
	if err := writer.WriteBatch(ctx, tx, rows); err != nil {
		t.Fatalf("replay batch: %v", err)
	}
	tx.Commit()

	seq, err = writer.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if seq != 3 {
		t.Errorf("latest sequence = %d, want 3", seq)
	}

	tip, err := writer.LatestHash(ctx)
	if err != nil {
		t.Fatalf("latest hash: %v", err)
	}
	if !bytes.Equal(tip, rows[2].StateHash) {
		t.Errorf("chain tip does not match last written hash")
	}

	loaded, err := writer.LoadEventsFrom(ctx, 2, 10)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d events, want 2", len(loaded))
	}
	if loaded[0].Sequence != 2 || loaded[1].Sequence != 3 {
		t.Errorf("loaded sequences = %d, %d, want 2, 3", loaded[0].Sequence, loaded[1].Sequence)
	}
	if !bytes.Equal(loaded[1].PrevHash, loaded[0].StateHash) {
		t.Errorf("stored chain broken between sequences 2 and 3")
	}
}
