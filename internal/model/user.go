package model

import (
	"time"
)

// UserRole 用户角色，必须显式设置，运行时不再根据姓名/邮箱推断
type UserRole string

const (
	Admin      UserRole = "admin"
	Auditor    UserRole = "auditor"
	Supervisor UserRole = "supervisor"
	Manager    UserRole = "manager"
)

// Valid 判断角色是否在枚举内
func (r UserRole) Valid() bool {
	switch r {
	case Admin, Auditor, Supervisor, Manager:
		return true
	}
	return false
}

// swagger:model User
type User struct {
	UUIDBase
	Name      string     `gorm:"size:100;not null" json:"name"`
	Email     string     `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Password  string     `gorm:"size:100;not null" json:"-"`
	Role      UserRole   `gorm:"size:20;not null;index" json:"role"`
	Disabled  bool       `gorm:"default:false" json:"disabled"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

func (User) TableName() string {
	return "usuarios"
}
