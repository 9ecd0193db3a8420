package repository

import (
	"context"

	"store_audit_backend/internal/model"

	"gorm.io/gorm"
)

// CatalogRepository 分区与题目（审核的静态参考数据）
type CatalogRepository struct {
	DB    *gorm.DB
	Cache CatalogCache
}

func NewCatalogRepository(db *gorm.DB, cache CatalogCache) *CatalogRepository {
	return &CatalogRepository{DB: db, Cache: cache}
}

// ListSections 按 position 排序，优先读缓存
func (r *CatalogRepository) ListSections(ctx context.Context) ([]model.Section, error) {
	if r.Cache != nil {
		if cached, ok := r.Cache.Sections(ctx); ok {
			return cached, nil
		}
	}
	gen, fill := r.cacheGeneration(ctx)
	var sections []model.Section
	err := r.DB.WithContext(ctx).Order("position asc, created_at asc").Find(&sections).Error
	if err != nil {
		return nil, err
	}
	if fill {
		r.Cache.SetSections(ctx, gen, sections)
	}
	return sections, nil
}

// ListQuestions 按分区、position 排序，优先读缓存
func (r *CatalogRepository) ListQuestions(ctx context.Context) ([]model.Question, error) {
	if r.Cache != nil {
		if cached, ok := r.Cache.Questions(ctx); ok {
			return cached, nil
		}
	}
	gen, fill := r.cacheGeneration(ctx)
	var questions []model.Question
	err := r.DB.WithContext(ctx).Order("section_id asc, position asc, created_at asc").Find(&questions).Error
	if err != nil {
		return nil, err
	}
	if fill {
		r.Cache.SetQuestions(ctx, gen, questions)
	}
	return questions, nil
}

func (r *CatalogRepository) ListQuestionsBySection(ctx context.Context, sectionID string) ([]model.Question, error) {
	var questions []model.Question
	err := r.DB.WithContext(ctx).Where("section_id = ?", sectionID).Order("position asc, created_at asc").Find(&questions).Error
	return questions, err
}

func (r *CatalogRepository) FindSectionByID(ctx context.Context, id string) (*model.Section, error) {
	var s model.Section
	err := r.DB.WithContext(ctx).First(&s, "id = ?", id).Error
	return &s, err
}

func (r *CatalogRepository) FindQuestionByID(ctx context.Context, id string) (*model.Question, error) {
	var q model.Question
	err := r.DB.WithContext(ctx).First(&q, "id = ?", id).Error
	return &q, err
}

// cacheGeneration 查库前记录缓存代数，回填时用它判断期间是否发生过失效
func (r *CatalogRepository) cacheGeneration(ctx context.Context) (int64, bool) {
	if r.Cache == nil {
		return 0, false
	}
	return r.Cache.Generation(ctx)
}

func (r *CatalogRepository) invalidate(ctx context.Context) {
	if r.Cache != nil {
		r.Cache.Invalidate(ctx)
	}
}

func (r *CatalogRepository) CreateSection(ctx context.Context, s *model.Section) error {
	defer r.invalidate(ctx)
	return r.DB.WithContext(ctx).Create(s).Error
}

func (r *CatalogRepository) UpdateSection(ctx context.Context, s *model.Section) error {
	defer r.invalidate(ctx)
	return r.DB.WithContext(ctx).Save(s).Error
}

// DeleteSection 删除分区，其下题目变为未分配分区（不参与评分）
func (r *CatalogRepository) DeleteSection(ctx context.Context, id string) error {
	defer r.invalidate(ctx)
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Question{}).Where("section_id = ?", id).Update("section_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Section{}, "id = ?", id).Error
	})
}

func (r *CatalogRepository) CreateQuestion(ctx context.Context, q *model.Question) error {
	defer r.invalidate(ctx)
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *CatalogRepository) UpdateQuestion(ctx context.Context, q *model.Question) error {
	defer r.invalidate(ctx)
	return r.DB.WithContext(ctx).Save(q).Error
}

func (r *CatalogRepository) DeleteQuestion(ctx context.Context, id string) error {
	defer r.invalidate(ctx)
	return r.DB.WithContext(ctx).Delete(&model.Question{}, "id = ?", id).Error
}
