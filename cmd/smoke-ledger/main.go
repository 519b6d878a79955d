package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"

	"buddypay.org/internal/ledger"
	"buddypay.org/internal/ledger/remote"
)

// Smoke test against a running API started with BUDDYPAY_DEV_TOKENS=true.
func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	addr := os.Getenv("BUDDYPAY_API_URL")
	if addr == "" {
		addr = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	base := remote.New(addr)
	run := ulid.Make().String()

	sender, err := signup(ctx, base, "smoke-a-"+run+"@buddypay.test")
	if err != nil {
		log.Fatalf("sender: %v", err)
	}
	receiver, err := signup(ctx, base, "smoke-b-"+run+"@buddypay.test")
	if err != nil {
		log.Fatalf("receiver: %v", err)
	}
	recvMe, err := receiver.Me(ctx)
	if err != nil {
		log.Fatalf("receiver me: %v", err)
	}

	ba, err := sender.LinkBankAccount(ctx, "SMOKE-"+run, 100_000)
	if err != nil {
		log.Fatalf("link bank account: %v", err)
	}
	if _, err := sender.Deposit(ctx, ba.ID, 20_000); err != nil {
		log.Fatalf("deposit: %v", err)
	}
	if _, err := sender.AddRelation(ctx, recvMe.User.Email); err != nil {
		log.Fatalf("relation: %v", err)
	}

	const amount = int64(4_200)
	rc, err := sender.Transfer(ctx, recvMe.User.ID, amount, "smoke-"+run)
	if err != nil {
		log.Fatalf("transfer: %v", err)
	}

	accA, err := sender.Account(ctx)
	if err != nil {
		log.Fatalf("balance sender: %v", err)
	}
	accB, err := receiver.Account(ctx)
	if err != nil {
		log.Fatalf("balance receiver: %v", err)
	}
	if accA.Balance != 20_000-rc.Transaction.AmountWithFee || accB.Balance != amount {
		log.Fatalf("unexpected balances: sender=%d receiver=%d fee=%d", accA.Balance, accB.Balance, rc.Fee)
	}

	tx, err := sender.Cancel(ctx, rc.Transaction.ID)
	if err != nil {
		log.Fatalf("cancel: %v", err)
	}
	if tx.Status != ledger.StatusCanceled {
		log.Fatalf("unexpected status after cancel: %s", tx.Status)
	}

	fmt.Printf("✅ buddypay smoke test passed: tx=%s fee=%s\n", rc.Transaction.ID, ledger.FormatAmount(rc.Fee))
}

func signup(ctx context.Context, base *remote.Client, email string) (*remote.Client, error) {
	if _, err := base.Register(ctx, email, email); err != nil {
		return nil, err
	}
	tok, err := base.IssueToken(ctx, email)
	if err != nil {
		return nil, err
	}
	return base.As(tok.Token), nil
}
