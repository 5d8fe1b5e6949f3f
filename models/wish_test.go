package models

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&Wish{}, &WishAuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSetTxSignatureOnce(t *testing.T) {
	db := openDB(t)
	wish := Wish{
		ID:            uuid.NewString(),
		WalletAddress: "AqvTZ2Jf2N5V8hT7xK9mPwQrS3uB4cD6eF8gH9jK2mN4",
		WishText:      "a wish long enough to store",
		Verdict:       VerdictWorthy,
		Score:         50,
	}
	if err := db.Create(&wish).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := SetTxSignatureOnce(db, wish.ID, "sig-first")
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if !applied {
		t.Fatal("first write must win")
	}

	// The second writer loses and must not overwrite the proof.
	applied, err = SetTxSignatureOnce(db, wish.ID, "sig-second")
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if applied {
		t.Fatal("second write must not apply")
	}

	var reloaded Wish
	if err := db.First(&reloaded, "id = ?", wish.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.TxSignature == nil || *reloaded.TxSignature != "sig-first" {
		t.Fatalf("proof = %v, want sig-first", reloaded.TxSignature)
	}
}

func TestSetTxSignatureOnceUnknownWish(t *testing.T) {
	db := openDB(t)
	applied, err := SetTxSignatureOnce(db, uuid.NewString(), "sig")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if applied {
		t.Fatal("unknown wish must not apply")
	}
}
