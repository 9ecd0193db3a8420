package repository

import (
	"store_audit_backend/internal/model"

	"gorm.io/gorm"
)

type StoreRepository struct {
	DB *gorm.DB
}

func NewStoreRepository(db *gorm.DB) *StoreRepository {
	return &StoreRepository{DB: db}
}

func (r *StoreRepository) Create(s *model.Store) error {
	return r.DB.Create(s).Error
}

func (r *StoreRepository) FindByID(id string) (*model.Store, error) {
	var s model.Store
	err := r.DB.First(&s, "id = ?", id).Error
	return &s, err
}

func (r *StoreRepository) List(page, limit int, search string, onlyActive bool) ([]model.Store, int64, error) {
	var stores []model.Store
	var total int64

	query := r.DB.Model(&model.Store{})
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR code LIKE ? OR city LIKE ?", like, like, like)
	}
	if onlyActive {
		query = query.Where("active = ?", true)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("name asc").Offset(offset).Limit(limit).Find(&stores).Error
	return stores, total, err
}

func (r *StoreRepository) Update(s *model.Store) error {
	return r.DB.Save(s).Error
}

func (r *StoreRepository) Delete(id string) error {
	return r.DB.Delete(&model.Store{}, "id = ?", id).Error
}
