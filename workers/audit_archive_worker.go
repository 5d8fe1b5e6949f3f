// workers/audit_archive_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"wish-payout-system/models"
	"wish-payout-system/utils"
)

// Audit rows older than this get exported to R2 and pruned from Postgres.
const auditRetention = 30 * 24 * time.Hour

// StartAuditArchiver exports aged WishAuditLog rows to object storage once a
// day, then deletes them. Rows are only deleted after the upload succeeded.
func StartAuditArchiver(db *gorm.DB) {
	if !utils.R2Enabled() {
		log.Println("⚠️  Audit archiver disabled (R2 not configured)")
		return
	}

	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if err := archiveOnce(db); err != nil {
				log.Printf("[AuditArchiver] %v", err)
			}
		}),
	)

	log.Println("Started audit archive worker (daily)")
}

func archiveOnce(db *gorm.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-auditRetention)

	var logs []models.WishAuditLog
	if err := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Order("created_at asc").
		Find(&logs).Error; err != nil {
		return fmt.Errorf("failed to load audit rows: %w", err)
	}
	if len(logs) == 0 {
		return nil
	}

	payload, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to encode audit export: %w", err)
	}

	key := fmt.Sprintf("audit/%s-%s.json",
		slug.Make(cutoff.Format("Jan 2 2006")),
		uuid.NewString(),
	)
	if err := utils.UploadJSONToR2(ctx, key, payload); err != nil {
		return err
	}

	if err := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.WishAuditLog{}).Error; err != nil {
		return fmt.Errorf("failed to prune archived rows: %w", err)
	}

	log.Printf("✅ [AuditArchiver] archived %d audit rows to %s", len(logs), key)
	return nil
}
