package repository

import (
	"context"
	"time"

	"store_audit_backend/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuditRepository struct {
	DB *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{DB: db}
}

// AuditFilter 历史审核查询条件
type AuditFilter struct {
	StoreID   string
	AuditorID string
	Status    model.AuditStatus
	StartDate time.Time
	EndDate   time.Time
}

func (r *AuditRepository) Create(ctx context.Context, a *model.Audit) error {
	return r.DB.WithContext(ctx).Create(a).Error
}

func (r *AuditRepository) FindByID(ctx context.Context, id string) (*model.Audit, error) {
	var a model.Audit
	err := r.DB.WithContext(ctx).Preload("Store").Preload("Auditor").First(&a, "id = ?", id).Error
	return &a, err
}

func (r *AuditRepository) List(ctx context.Context, page, limit int, f AuditFilter) ([]model.Audit, int64, error) {
	var audits []model.Audit
	var total int64

	query := r.DB.WithContext(ctx).Model(&model.Audit{})
	if f.StoreID != "" {
		query = query.Where("store_id = ?", f.StoreID)
	}
	if f.AuditorID != "" {
		query = query.Where("auditor_id = ?", f.AuditorID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if !f.StartDate.IsZero() {
		query = query.Where("created_at >= ?", f.StartDate)
	}
	if !f.EndDate.IsZero() {
		query = query.Where("created_at <= ?", f.EndDate)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Preload("Store").Order("created_at desc").Offset(offset).Limit(limit).Find(&audits).Error
	return audits, total, err
}

// lockAudit 在事务内确认审核仍存在，并对该行加锁，与 Delete 串行化。
// SQLite 写事务本身是串行的，不支持 FOR SHARE/FOR UPDATE 子句。
func lockAudit(tx *gorm.DB, id, strength string) error {
	query := tx.Model(&model.Audit{}).Select("id").Where("id = ?", id)
	if tx.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: strength})
	}
	var row struct{ ID string }
	return query.Take(&row).Error
}

// UpdateTotals 写入总分和状态，这是唯一修改审核状态的入口。审核不存在时返回 gorm.ErrRecordNotFound
func (r *AuditRepository) UpdateTotals(ctx context.Context, id string, total decimal.Decimal, status model.AuditStatus) error {
	updates := map[string]interface{}{
		"total":  total,
		"status": status,
	}
	if status == model.AuditConcluded {
		// 重复保存不改变首次完成时间
		updates["concluded_at"] = gorm.Expr("COALESCE(concluded_at, ?)", time.Now())
	} else {
		updates["concluded_at"] = nil
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// MySQL 对未变化的行返回 RowsAffected=0，存在性由 lockAudit 判断
		if err := lockAudit(tx, id, clause.LockingStrengthUpdate); err != nil {
			return err
		}
		return tx.Model(&model.Audit{}).Where("id = ?", id).Updates(updates).Error
	})
}

// Delete 删除审核并级联删除全部回答
func (r *AuditRepository) Delete(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先锁审核行，并发的回答写入会等待本事务结束后看到审核已删除
		if err := lockAudit(tx, id, clause.LockingStrengthUpdate); err != nil {
			return err
		}
		if err := tx.Where("audit_id = ?", id).Delete(&model.Answer{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Audit{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *AuditRepository) ListAnswers(ctx context.Context, auditID string) ([]model.Answer, error) {
	var answers []model.Answer
	err := r.DB.WithContext(ctx).Where("audit_id = ?", auditID).Order("updated_at asc").Find(&answers).Error
	return answers, err
}

// UpsertAnswer 按 (audit_id, question_id) 插入或更新，返回数据库中的最新行。
// 审核不存在（或已删除）时不写入，返回 gorm.ErrRecordNotFound
func (r *AuditRepository) UpsertAnswer(ctx context.Context, a *model.Answer) (*model.Answer, error) {
	now := time.Now()
	a.UpdatedAt = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	var stored model.Answer
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockAudit(tx, a.AuditID, clause.LockingStrengthShare); err != nil {
			return err
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "audit_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"response", "score", "note", "attachment_ref", "updated_at"}),
		}).Create(a).Error
		if err != nil {
			return err
		}
		return tx.Where("audit_id = ? AND question_id = ?", a.AuditID, a.QuestionID).First(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}
