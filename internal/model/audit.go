package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"store_audit_backend/internal/scoring"
)

type AuditStatus string

const (
	AuditInProgress AuditStatus = "in_progress"
	AuditConcluded  AuditStatus = "concluded"
)

// Audit 一次门店审核
// swagger:model Audit
type Audit struct {
	UUIDBase
	StoreID   string `gorm:"type:varchar(36);index;not null" json:"storeId"`
	Store     *Store `gorm:"foreignKey:StoreID" json:"store,omitempty"`
	AuditorID string `gorm:"type:varchar(36);index" json:"auditorId"`
	Auditor   *User  `gorm:"foreignKey:AuditorID" json:"auditor,omitempty"`
	// 主管、经理姓名为冗余字符串，不是外键
	SupervisorName string          `gorm:"size:100" json:"supervisorName"`
	ManagerName    string          `gorm:"size:100" json:"managerName"`
	Total          decimal.Decimal `gorm:"type:decimal(10,1);not null;default:0" json:"total"`
	Status         AuditStatus     `gorm:"size:20;not null;default:'in_progress';index" json:"status"`
	ConcludedAt    *time.Time      `json:"concludedAt,omitempty"`
}

func (Audit) TableName() string {
	return "auditorias"
}

// Answer 一条回答，(AuditID, QuestionID) 唯一
// swagger:model Answer
type Answer struct {
	ID            string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AuditID       string           `gorm:"type:varchar(36);not null;uniqueIndex:idx_respostas_auditoria_pergunta" json:"auditId"`
	QuestionID    string           `gorm:"type:varchar(36);not null;uniqueIndex:idx_respostas_auditoria_pergunta" json:"questionId"`
	Response      scoring.Response `gorm:"size:20;not null" json:"response"`
	Score         decimal.Decimal  `gorm:"type:decimal(4,1);not null" json:"score"`
	Note          string           `gorm:"type:text" json:"note"`
	AttachmentRef string           `gorm:"size:512" json:"attachmentRef"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

func (Answer) TableName() string {
	return "respostas"
}

func (a *Answer) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// ScoringAnswer 转换为评分模型的输入
func (a Answer) ScoringAnswer() scoring.Answer {
	return scoring.Answer{
		QuestionID: a.QuestionID,
		Response:   a.Response,
		Score:      a.Score,
		UpdatedAt:  a.UpdatedAt,
	}
}
