package service

import (
	"errors"

	"store_audit_backend/internal/model"
	"store_audit_backend/internal/repository"
	"store_audit_backend/internal/util"

	"gorm.io/gorm"
)

type StoreService struct {
	StoreRepo *repository.StoreRepository
}

func NewStoreService(storeRepo *repository.StoreRepository) *StoreService {
	return &StoreService{StoreRepo: storeRepo}
}

func (s *StoreService) List(page, limit int, search string, onlyActive bool) ([]model.Store, int64, error) {
	return s.StoreRepo.List(page, limit, search, onlyActive)
}

func (s *StoreService) Get(id string) (*model.Store, error) {
	store, err := s.StoreRepo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrStoreNotFound
	}
	return store, err
}

func (s *StoreService) Create(store *model.Store) error {
	if store.Code == "" {
		store.Code = model.GenerateUUID()[:8]
	}
	return s.StoreRepo.Create(store)
}

func (s *StoreService) Update(id string, in *model.Store) (*model.Store, error) {
	store, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	store.Name = in.Name
	store.Address = in.Address
	store.City = in.City
	store.Active = in.Active
	if in.Code != "" {
		store.Code = in.Code
	}
	if err := s.StoreRepo.Update(store); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *StoreService) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.StoreRepo.Delete(id)
}
