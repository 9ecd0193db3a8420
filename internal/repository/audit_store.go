package repository

import (
	"context"
	"errors"

	"store_audit_backend/internal/model"
	"store_audit_backend/internal/scoring"
	"store_audit_backend/internal/util"
	"store_audit_backend/pkg/tracing"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// AuditStore 审核会话使用的持久化适配器，组合分区/题目与审核/回答仓库
type AuditStore struct {
	Catalog *CatalogRepository
	Audits  *AuditRepository
}

func NewAuditStore(catalog *CatalogRepository, audits *AuditRepository) *AuditStore {
	return &AuditStore{Catalog: catalog, Audits: audits}
}

func (s *AuditStore) ListQuestions(ctx context.Context) ([]model.Question, error) {
	ctx, span := tracing.Start(ctx, "audit_store.list_questions")
	questions, err := s.Catalog.ListQuestions(ctx)
	tracing.End(span, err)
	return questions, err
}

func (s *AuditStore) ListSections(ctx context.Context) ([]model.Section, error) {
	ctx, span := tracing.Start(ctx, "audit_store.list_sections")
	sections, err := s.Catalog.ListSections(ctx)
	tracing.End(span, err)
	return sections, err
}

func (s *AuditStore) GetAudit(ctx context.Context, id string) (*model.Audit, error) {
	ctx, span := tracing.Start(ctx, "audit_store.get_audit", attribute.String("audit.id", id))
	audit, err := s.Audits.FindByID(ctx, id)
	tracing.End(span, err)
	return audit, err
}

func (s *AuditStore) ListAnswers(ctx context.Context, auditID string) ([]model.Answer, error) {
	ctx, span := tracing.Start(ctx, "audit_store.list_answers", attribute.String("audit.id", auditID))
	answers, err := s.Audits.ListAnswers(ctx, auditID)
	tracing.End(span, err)
	return answers, err
}

func (s *AuditStore) UpsertAnswer(ctx context.Context, auditID, questionID string, response scoring.Response, score decimal.Decimal, note, attachmentRef string) (*model.Answer, error) {
	ctx, span := tracing.Start(ctx, "audit_store.upsert_answer",
		attribute.String("audit.id", auditID),
		attribute.String("question.id", questionID),
		attribute.String("answer.response", string(response)))
	stored, err := s.Audits.UpsertAnswer(ctx, &model.Answer{
		AuditID:       auditID,
		QuestionID:    questionID,
		Response:      response,
		Score:         score,
		Note:          note,
		AttachmentRef: attachmentRef,
	})
	err = auditGone(err)
	tracing.End(span, err)
	return stored, err
}

func (s *AuditStore) UpdateAuditTotals(ctx context.Context, auditID string, total decimal.Decimal, status model.AuditStatus) error {
	ctx, span := tracing.Start(ctx, "audit_store.update_totals",
		attribute.String("audit.id", auditID),
		attribute.String("audit.status", string(status)))
	err := auditGone(s.Audits.UpdateTotals(ctx, auditID, total, status))
	tracing.End(span, err)
	return err
}

// auditGone 写入时审核已不存在，统一返回 util.ErrAuditNotFound
func auditGone(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.ErrAuditNotFound
	}
	return err
}
