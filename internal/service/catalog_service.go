package service

import (
	"context"
	"errors"

	"store_audit_backend/internal/model"
	"store_audit_backend/internal/repository"
	"store_audit_backend/internal/util"

	"gorm.io/gorm"
)

// CatalogService 分区与题目的维护
type CatalogService struct {
	Repo *repository.CatalogRepository
}

func NewCatalogService(repo *repository.CatalogRepository) *CatalogService {
	return &CatalogService{Repo: repo}
}

// SectionWithQuestions 分区及其题目
type SectionWithQuestions struct {
	model.Section
	Questions []model.Question `json:"questions"`
}

// Catalog 按审核顺序返回全部分区和题目，未分配分区的题目单独返回
func (s *CatalogService) Catalog(ctx context.Context) ([]SectionWithQuestions, []model.Question, error) {
	sections, err := s.Repo.ListSections(ctx)
	if err != nil {
		return nil, nil, err
	}
	questions, err := s.Repo.ListQuestions(ctx)
	if err != nil {
		return nil, nil, err
	}

	bySection := make(map[string][]model.Question)
	for _, q := range questions {
		bySection[q.SectionKey()] = append(bySection[q.SectionKey()], q)
	}

	out := make([]SectionWithQuestions, len(sections))
	known := make(map[string]bool, len(sections))
	for i, sec := range sections {
		known[sec.ID] = true
		qs := bySection[sec.ID]
		if qs == nil {
			qs = []model.Question{}
		}
		out[i] = SectionWithQuestions{Section: sec, Questions: qs}
	}

	var unassigned []model.Question
	for key, qs := range bySection {
		if !known[key] {
			unassigned = append(unassigned, qs...)
		}
	}
	return out, unassigned, nil
}

func (s *CatalogService) GetSection(ctx context.Context, id string) (*model.Section, error) {
	sec, err := s.Repo.FindSectionByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSectionNotFound
	}
	return sec, err
}

func (s *CatalogService) CreateSection(ctx context.Context, sec *model.Section) error {
	return s.Repo.CreateSection(ctx, sec)
}

func (s *CatalogService) UpdateSection(ctx context.Context, id string, in *model.Section) (*model.Section, error) {
	sec, err := s.GetSection(ctx, id)
	if err != nil {
		return nil, err
	}
	sec.Name = in.Name
	sec.Description = in.Description
	sec.Position = in.Position
	if err := s.Repo.UpdateSection(ctx, sec); err != nil {
		return nil, err
	}
	return sec, nil
}

// DeleteSection 删除分区，题目保留但不再参与评分
func (s *CatalogService) DeleteSection(ctx context.Context, id string) error {
	if _, err := s.GetSection(ctx, id); err != nil {
		return err
	}
	return s.Repo.DeleteSection(ctx, id)
}

func (s *CatalogService) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	q, err := s.Repo.FindQuestionByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuestionNotFound
	}
	return q, err
}

func (s *CatalogService) checkSection(ctx context.Context, sectionID *string) error {
	if sectionID == nil || *sectionID == "" {
		return nil
	}
	_, err := s.GetSection(ctx, *sectionID)
	return err
}

func (s *CatalogService) CreateQuestion(ctx context.Context, q *model.Question) error {
	if q.SectionID != nil && *q.SectionID == "" {
		q.SectionID = nil
	}
	if err := s.checkSection(ctx, q.SectionID); err != nil {
		return err
	}
	return s.Repo.CreateQuestion(ctx, q)
}

func (s *CatalogService) UpdateQuestion(ctx context.Context, id string, in *model.Question) (*model.Question, error) {
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.SectionID != nil && *in.SectionID == "" {
		in.SectionID = nil
	}
	if err := s.checkSection(ctx, in.SectionID); err != nil {
		return nil, err
	}
	q.SectionID = in.SectionID
	q.Text = in.Text
	q.Guidance = in.Guidance
	q.Position = in.Position
	if err := s.Repo.UpdateQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *CatalogService) DeleteQuestion(ctx context.Context, id string) error {
	if _, err := s.GetQuestion(ctx, id); err != nil {
		return err
	}
	return s.Repo.DeleteQuestion(ctx, id)
}
