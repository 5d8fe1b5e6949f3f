// services/ledger.go
package services

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// TxStatus is the observed state of a submitted transaction.
type TxStatus struct {
	Confirmed bool
	Err       error // non-nil when the chain reports the transaction failed
}

// Ledger is the on-chain interface the claim flow depends on. The production
// implementation is SolanaLedger; tests substitute a scripted mock.
type Ledger interface {
	// TreasuryTokenAccount returns the treasury's token account. An error
	// here means the treasury is not funded for this token.
	TreasuryTokenAccount(ctx context.Context) (solana.PublicKey, error)

	// ResolveTokenAccount returns the owner's token account, creating it
	// on-chain first when it does not exist yet.
	ResolveTokenAccount(ctx context.Context, owner solana.PublicKey) (solana.PublicKey, error)

	BuildTransfer(source, dest solana.PublicKey, amount uint64) solana.Instruction
	BuildPriorityFee(microLamports uint64) solana.Instruction

	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// Submit signs and broadcasts the instructions as one transaction,
	// without preflight simulation and without RPC-side retries. Retrying
	// is the caller's job.
	Submit(ctx context.Context, instrs []solana.Instruction, blockhash solana.Hash) (solana.Signature, error)

	Status(ctx context.Context, sig solana.Signature) (TxStatus, error)

	// TreasuryBalance and TokenSupply return UI amounts (decimals applied).
	TreasuryBalance(ctx context.Context) (float64, error)
	TokenSupply(ctx context.Context) (float64, error)
}
