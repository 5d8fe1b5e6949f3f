// services/solana_ledger.go
package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
)

// Token-2022 program; the distributed token lives there, not in the legacy
// SPL token program.
var token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

const createTokenAccountTimeout = 30 * time.Second

// SolanaLedger implements Ledger against a Solana RPC node, paying from a
// custodial treasury keypair.
type SolanaLedger struct {
	client   *rpc.Client
	treasury solana.PrivateKey
	mint     solana.PublicKey
}

func NewSolanaLedger(rpcURL, treasuryKeyBase58, mintBase58 string) (*SolanaLedger, error) {
	treasury, err := solana.PrivateKeyFromBase58(treasuryKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid treasury private key: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(mintBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint address: %w", err)
	}
	log.Printf("🔗 [LEDGER] Treasury wallet: %s", treasury.PublicKey())
	return &SolanaLedger{
		client:   rpc.New(rpcURL),
		treasury: treasury,
		mint:     mint,
	}, nil
}

// associatedTokenAddress derives the token-2022 associated token account for
// an owner. solana.FindAssociatedTokenAddress hardcodes the legacy token
// program in its seeds, so the derivation is spelled out here.
func (l *SolanaLedger) associatedTokenAddress(owner solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner.Bytes(), token2022ProgramID.Bytes(), l.mint.Bytes()},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive token account for %s: %w", owner, err)
	}
	return addr, nil
}

func (l *SolanaLedger) TreasuryTokenAccount(ctx context.Context) (solana.PublicKey, error) {
	ata, err := l.associatedTokenAddress(l.treasury.PublicKey())
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := l.client.GetAccountInfo(ctx, ata); err != nil {
		return solana.PublicKey{}, fmt.Errorf("treasury token account %s not found: %w", ata, err)
	}
	return ata, nil
}

func (l *SolanaLedger) ResolveTokenAccount(ctx context.Context, owner solana.PublicKey) (solana.PublicKey, error) {
	ata, err := l.associatedTokenAddress(owner)
	if err != nil {
		return solana.PublicKey{}, err
	}

	_, err = l.client.GetAccountInfo(ctx, ata)
	if err == nil {
		return ata, nil
	}
	if !errors.Is(err, rpc.ErrNotFound) {
		return solana.PublicKey{}, fmt.Errorf("failed to look up token account %s: %w", ata, err)
	}

	log.Printf("🪙 [LEDGER] Creating token account %s for %s", ata, owner)
	if err := l.createTokenAccount(ctx, owner, ata); err != nil {
		return solana.PublicKey{}, err
	}
	return ata, nil
}

// createTokenAccount submits a CreateIdempotent associated-token-account
// instruction and waits for confirmation. Idempotent creation keeps a lost
// race with another claim harmless.
func (l *SolanaLedger) createTokenAccount(ctx context.Context, owner, ata solana.PublicKey) error {
	ix := solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.Meta(l.treasury.PublicKey()).SIGNER().WRITE(),
			solana.Meta(ata).WRITE(),
			solana.Meta(owner),
			solana.Meta(l.mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(token2022ProgramID),
		},
		[]byte{1}, // CreateIdempotent
	)

	blockhash, err := l.LatestBlockhash(ctx)
	if err != nil {
		return err
	}
	sig, err := l.Submit(ctx, []solana.Instruction{ix}, blockhash)
	if err != nil {
		return fmt.Errorf("failed to create token account: %w", err)
	}

	deadline := time.Now().Add(createTokenAccountTimeout)
	for time.Now().Before(deadline) {
		st, err := l.Status(ctx, sig)
		if err == nil {
			if st.Err != nil {
				return fmt.Errorf("token account creation failed on-chain: %w", st.Err)
			}
			if st.Confirmed {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("token account creation timeout for %s", ata)
}

func (l *SolanaLedger) BuildTransfer(source, dest solana.PublicKey, amount uint64) solana.Instruction {
	// SPL token Transfer: discriminator 3 + u64 LE amount.
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], amount)
	return solana.NewInstruction(
		token2022ProgramID,
		solana.AccountMetaSlice{
			solana.Meta(source).WRITE(),
			solana.Meta(dest).WRITE(),
			solana.Meta(l.treasury.PublicKey()).SIGNER(),
		},
		data,
	)
}

func (l *SolanaLedger) BuildPriorityFee(microLamports uint64) solana.Instruction {
	return computebudget.NewSetComputeUnitPriceInstruction(microLamports).Build()
}

func (l *SolanaLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to fetch blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

func (l *SolanaLedger) Submit(ctx context.Context, instrs []solana.Instruction, blockhash solana.Hash) (solana.Signature, error) {
	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(l.treasury.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(l.treasury.PublicKey()) {
			return &l.treasury
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	// Skip preflight for latency; failures surface during confirmation
	// polling. MaxRetries 0 because the claim loop owns retrying.
	maxRetries := uint(0)
	sig, err := l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: true,
		MaxRetries:    &maxRetries,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

func (l *SolanaLedger) Status(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	out, err := l.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return TxStatus{}, fmt.Errorf("failed to fetch signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return TxStatus{}, nil // not yet observed
	}
	st := out.Value[0]
	if st.Err != nil {
		return TxStatus{Err: fmt.Errorf("transaction failed: %v", st.Err)}, nil
	}
	confirmed := st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	return TxStatus{Confirmed: confirmed}, nil
}

func (l *SolanaLedger) TreasuryBalance(ctx context.Context) (float64, error) {
	ata, err := l.associatedTokenAddress(l.treasury.PublicKey())
	if err != nil {
		return 0, err
	}
	out, err := l.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch treasury balance: %w", err)
	}
	return parseUIAmount(out.Value.UiAmountString)
}

func (l *SolanaLedger) TokenSupply(ctx context.Context) (float64, error) {
	out, err := l.client.GetTokenSupply(ctx, l.mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch token supply: %w", err)
	}
	return parseUIAmount(out.Value.UiAmountString)
}

func parseUIAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable token amount %q: %w", s, err)
	}
	return v, nil
}
