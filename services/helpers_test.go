package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wish-payout-system/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Wish{}, &models.WishAuditLog{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeBalance is a BalanceProvider with a fixed answer.
type fakeBalance struct {
	value float64
	known bool
}

func (f fakeBalance) Balance(ctx context.Context) (float64, bool) { return f.value, f.known }

// mockOracle scripts the scoring oracle.
type mockOracle struct {
	score   int
	message string
	err     error
	calls   int
}

func (m *mockOracle) Judge(ctx context.Context, wishText string, recentWinners []string) (OracleJudgment, error) {
	m.calls++
	if m.err != nil {
		return OracleJudgment{}, m.err
	}
	return OracleJudgment{Score: m.score, Message: m.message, Raw: "{}"}, nil
}

// mockLedger scripts on-chain behavior per submit attempt.
type mockLedger struct {
	submitCalls int
	submitErrs  []error // indexed by attempt; nil entry or out of range = success

	statusErr       error // reported as on-chain failure for every status poll
	neverConfirm    bool
	treasuryErr     error
	resolveErr      error
	treasuryBalance float64
	tokenSupply     float64
	balanceErr      error
	balanceCalls    int
}

func (m *mockLedger) TreasuryTokenAccount(ctx context.Context) (solana.PublicKey, error) {
	if m.treasuryErr != nil {
		return solana.PublicKey{}, m.treasuryErr
	}
	var pk solana.PublicKey
	pk[0] = 1
	return pk, nil
}

func (m *mockLedger) ResolveTokenAccount(ctx context.Context, owner solana.PublicKey) (solana.PublicKey, error) {
	if m.resolveErr != nil {
		return solana.PublicKey{}, m.resolveErr
	}
	var pk solana.PublicKey
	pk[0] = 2
	return pk, nil
}

func (m *mockLedger) BuildTransfer(source, dest solana.PublicKey, amount uint64) solana.Instruction {
	return solana.NewInstruction(solana.PublicKey{}, solana.AccountMetaSlice{}, []byte{3})
}

func (m *mockLedger) BuildPriorityFee(microLamports uint64) solana.Instruction {
	return solana.NewInstruction(solana.PublicKey{}, solana.AccountMetaSlice{}, []byte{1})
}

func (m *mockLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

func (m *mockLedger) Submit(ctx context.Context, instrs []solana.Instruction, blockhash solana.Hash) (solana.Signature, error) {
	m.submitCalls++
	if idx := m.submitCalls - 1; idx < len(m.submitErrs) && m.submitErrs[idx] != nil {
		return solana.Signature{}, m.submitErrs[idx]
	}
	var sig solana.Signature
	sig[0] = byte(m.submitCalls)
	return sig, nil
}

func (m *mockLedger) Status(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	if m.statusErr != nil {
		return TxStatus{Err: m.statusErr}, nil
	}
	if m.neverConfirm {
		return TxStatus{}, nil
	}
	return TxStatus{Confirmed: true}, nil
}

func (m *mockLedger) TreasuryBalance(ctx context.Context) (float64, error) {
	m.balanceCalls++
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.treasuryBalance, nil
}

func (m *mockLedger) TokenSupply(ctx context.Context) (float64, error) {
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.tokenSupply, nil
}
