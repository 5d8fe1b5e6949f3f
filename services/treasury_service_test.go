package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTreasuryAt(ledger *mockLedger, now *time.Time) *TreasuryService {
	s := NewTreasuryService(ledger)
	s.Now = func() time.Time { return *now }
	return s
}

func TestTreasuryStatsCachesWithinTTL(t *testing.T) {
	ledger := &mockLedger{treasuryBalance: 50_000_000, tokenSupply: 100_000_000}
	now := time.Now()
	s := newTreasuryAt(ledger, &now)

	stats := s.Stats(context.Background())
	if !stats.IsLive || stats.TreasuryBalance != 50_000_000 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Percentage != 50.0 {
		t.Fatalf("percentage = %v, want 50", stats.Percentage)
	}

	// Within the TTL the ledger is not consulted again.
	now = now.Add(5 * time.Second)
	s.Stats(context.Background())
	if ledger.balanceCalls != 1 {
		t.Fatalf("balanceCalls = %d, want 1", ledger.balanceCalls)
	}

	// Past the TTL it is.
	now = now.Add(6 * time.Second)
	s.Stats(context.Background())
	if ledger.balanceCalls != 2 {
		t.Fatalf("balanceCalls = %d, want 2", ledger.balanceCalls)
	}
}

func TestTreasuryServesStaleOnFailure(t *testing.T) {
	ledger := &mockLedger{treasuryBalance: 8_000_000, tokenSupply: 100_000_000}
	now := time.Now()
	s := newTreasuryAt(ledger, &now)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ledger.balanceErr = errors.New("rpc timeout")
	now = now.Add(15 * time.Second)
	stats := s.Stats(context.Background())
	if stats.TreasuryBalance != 8_000_000 {
		t.Fatalf("stale balance lost: %+v", stats)
	}
	if stats.IsLive {
		t.Fatal("stale snapshot must not report live")
	}

	// A stale balance is still a known balance for the guard.
	bal, known := s.Balance(context.Background())
	if !known || bal != 8_000_000 {
		t.Fatalf("Balance = (%v, %v), want (8000000, true)", bal, known)
	}
}

func TestTreasuryBalanceUnknownWhenNeverFetched(t *testing.T) {
	ledger := &mockLedger{balanceErr: errors.New("rpc down")}
	now := time.Now()
	s := newTreasuryAt(ledger, &now)

	if _, known := s.Balance(context.Background()); known {
		t.Fatal("balance must be unknown before any successful fetch")
	}
}
