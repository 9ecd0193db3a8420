package model

// Store 被审核的门店
// swagger:model Store
type Store struct {
	UUIDBase
	Name    string `gorm:"size:150;not null" json:"name"`
	Code    string `gorm:"size:30;uniqueIndex" json:"code"`
	Address string `gorm:"size:255" json:"address"`
	City    string `gorm:"size:100" json:"city"`
	Active  bool   `gorm:"default:true" json:"active"`
}

func (Store) TableName() string {
	return "lojas"
}
