package service

import (
	"crypto/rand"
	"errors"
	"math/big"

	"store_audit_backend/internal/model"
	"store_audit_backend/internal/repository"
	"store_audit_backend/internal/util"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserService 管理员维护用户
type UserService struct {
	UserRepo *repository.UserRepository
	Auth     *AuthService
}

func NewUserService(userRepo *repository.UserRepository, auth *AuthService) *UserService {
	return &UserService{UserRepo: userRepo, Auth: auth}
}

// UserUpdate 可修改的用户字段，nil 表示不修改
type UserUpdate struct {
	Name     *string
	Email    *string
	Role     *model.UserRole
	Disabled *bool
}

func (s *UserService) List(page, limit int, role model.UserRole, search string) ([]model.User, int64, error) {
	if role != "" && !role.Valid() {
		return nil, 0, util.ErrInvalidRole
	}
	return s.UserRepo.List(page, limit, role, search)
}

func (s *UserService) Get(id string) (*model.User, error) {
	user, err := s.UserRepo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrUserNotFound
	}
	return user, err
}

func (s *UserService) Create(user *model.User) error {
	return s.Auth.Register(user)
}

func (s *UserService) Update(id string, in UserUpdate) (*model.User, error) {
	user, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		user.Name = *in.Name
	}
	if in.Email != nil && *in.Email != user.Email {
		if _, err := s.UserRepo.FindByEmail(*in.Email); err == nil {
			return nil, util.ErrEmailRegistered
		}
		user.Email = *in.Email
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, util.ErrInvalidRole
		}
		user.Role = *in.Role
	}
	if in.Disabled != nil {
		user.Disabled = *in.Disabled
	}
	if err := s.UserRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.UserRepo.Delete(id)
}

// ResetPassword 重置为随机临时密码并返回明文
func (s *UserService) ResetPassword(id string) (string, error) {
	user, err := s.Get(id)
	if err != nil {
		return "", err
	}

	tempPassword, err := generateTempPassword()
	if err != nil {
		return "", err
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	user.Password = string(hashedPassword)
	if err := s.UserRepo.Update(user); err != nil {
		return "", err
	}
	return tempPassword, nil
}

func generateTempPassword() (string, error) {
	const charset = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 10)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}
	return string(b), nil
}
