package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"store_audit_backend/internal/model"
	"store_audit_backend/internal/repository"
	"store_audit_backend/internal/scoring"
	"store_audit_backend/internal/util"
	"store_audit_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditService 审核的创建、查询、报告和删除
type AuditService struct {
	Audits   *repository.AuditRepository
	Catalog  *repository.CatalogRepository
	Stores   *repository.StoreRepository
	Sessions *SessionManager
}

func NewAuditService(audits *repository.AuditRepository, catalog *repository.CatalogRepository, stores *repository.StoreRepository, sessions *SessionManager) *AuditService {
	return &AuditService{Audits: audits, Catalog: catalog, Stores: stores, Sessions: sessions}
}

// StartAuditRequest 开始一次门店审核
type StartAuditRequest struct {
	StoreID        string `json:"storeId" binding:"required"`
	SupervisorName string `json:"supervisorName"`
	ManagerName    string `json:"managerName"`
}

func (s *AuditService) Start(ctx context.Context, auditorID string, req StartAuditRequest) (*model.Audit, error) {
	store, err := s.Stores.FindByID(req.StoreID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrStoreNotFound
		}
		return nil, err
	}
	if !store.Active {
		return nil, util.ErrStoreNotFound
	}

	audit := &model.Audit{
		StoreID:        store.ID,
		AuditorID:      auditorID,
		SupervisorName: strings.TrimSpace(req.SupervisorName),
		ManagerName:    strings.TrimSpace(req.ManagerName),
		Status:         model.AuditInProgress,
	}
	if err := s.Audits.Create(ctx, audit); err != nil {
		return nil, err
	}
	audit.Store = store

	logger.Log.Info("Audit started",
		zap.String("audit_id", audit.ID),
		zap.String("store_id", store.ID),
		zap.String("auditor_id", auditorID))
	return audit, nil
}

func (s *AuditService) Get(ctx context.Context, id string) (*model.Audit, error) {
	audit, err := s.Audits.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAuditNotFound
	}
	return audit, err
}

func (s *AuditService) List(ctx context.Context, page, limit int, filter repository.AuditFilter) ([]model.Audit, int64, error) {
	return s.Audits.List(ctx, page, limit, filter)
}

// Delete 删除审核及其全部回答，并关闭打开中的会话
func (s *AuditService) Delete(ctx context.Context, id string) error {
	// 先关闭会话并等待其写入结束，级联删除之后不会再有回答写入
	if s.Sessions != nil {
		s.Sessions.Close(id)
	}
	err := s.Audits.Delete(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.ErrAuditNotFound
	}
	if err != nil {
		return err
	}
	// 删除期间重新打开的会话
	if s.Sessions != nil {
		s.Sessions.Close(id)
	}
	logger.Log.Info("Audit deleted", zap.String("audit_id", id))
	return nil
}

// CriticalItem 需要关注的题目（分值 <= 0）
type CriticalItem struct {
	QuestionID    string           `json:"questionId"`
	SectionName   string           `json:"sectionName"`
	Question      string           `json:"question"`
	Response      scoring.Response `json:"response"`
	Score         float64          `json:"score"`
	Note          string           `json:"note,omitempty"`
	AttachmentRef string           `json:"attachmentRef,omitempty"`
}

// AuditReport 某一时刻的完整审核快照，报告页面和导出共用
type AuditReport struct {
	Audit       *model.Audit   `json:"audit"`
	Sections    []SectionView  `json:"sections"`
	Total       float64        `json:"total"`
	TotalExact  string         `json:"totalExact"`
	Progress    float64        `json:"progress"`
	Complete    bool           `json:"complete"`
	Critical    []CriticalItem `json:"critical"`
	Warnings    []string       `json:"warnings,omitempty"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// Report 基于持久层的回答重新汇总，不依赖打开中的会话
func (s *AuditService) Report(ctx context.Context, id string) (*AuditReport, error) {
	audit, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sections, err := s.Catalog.ListSections(ctx)
	if err != nil {
		return nil, err
	}
	questions, err := s.Catalog.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	answers, err := s.Audits.ListAnswers(ctx, id)
	if err != nil {
		return nil, err
	}
	return buildReport(audit, sections, questions, answers), nil
}

func buildReport(audit *model.Audit, sections []model.Section, questions []model.Question, answers []model.Answer) *AuditReport {
	ss := make([]scoring.Section, len(sections))
	sectionName := make(map[string]string, len(sections))
	for i, sec := range sections {
		ss[i] = scoring.Section{ID: sec.ID, Name: sec.Name}
		sectionName[sec.ID] = sec.Name
	}
	qs := make([]scoring.Question, len(questions))
	questionByID := make(map[string]model.Question, len(questions))
	for i, q := range questions {
		qs[i] = scoring.Question{ID: q.ID, SectionID: q.SectionKey()}
		questionByID[q.ID] = q
	}
	as := make([]scoring.Answer, len(answers))
	answerByQuestion := make(map[string]model.Answer, len(answers))
	for i, a := range answers {
		as[i] = a.ScoringAnswer()
		answerByQuestion[a.QuestionID] = a
	}

	report := scoring.Aggregate(ss, qs, as)

	views := make([]SectionView, len(report.Sections))
	for i, sec := range report.Sections {
		views[i] = SectionView{
			ID:            sec.SectionID,
			Name:          sec.Name,
			Subtotal:      scoring.Round1(sec.Subtotal),
			AnsweredCount: sec.AnsweredCount,
			QuestionCount: sec.QuestionCount,
			Complete:      sec.Complete,
			Percent:       sec.Percent(),
		}
	}

	critical := []CriticalItem{}
	for _, a := range scoring.CriticalItems(qs, as) {
		q := questionByID[a.QuestionID]
		stored := answerByQuestion[a.QuestionID]
		critical = append(critical, CriticalItem{
			QuestionID:    a.QuestionID,
			SectionName:   sectionName[q.SectionKey()],
			Question:      q.Text,
			Response:      a.Response,
			Score:         scoring.Round1(a.Score),
			Note:          stored.Note,
			AttachmentRef: stored.AttachmentRef,
		})
	}

	return &AuditReport{
		Audit:       audit,
		Sections:    views,
		Total:       scoring.Round1(report.Total),
		TotalExact:  report.Total.String(),
		Progress:    report.Progress(),
		Complete:    report.Complete(),
		Critical:    critical,
		Warnings:    report.Warnings,
		GeneratedAt: time.Now(),
	}
}
