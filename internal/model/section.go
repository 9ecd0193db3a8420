package model

// Section 题目分区，Position 决定审核时的顺序
// swagger:model Section
type Section struct {
	UUIDBase
	Name        string `gorm:"size:150;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Position    int    `gorm:"default:0;index" json:"position"`
}

func (Section) TableName() string {
	return "secoes"
}

// swagger:model Question
type Question struct {
	UUIDBase
	// 可为空；未分配分区的题目不参与评分
	SectionID *string `gorm:"type:varchar(36);index" json:"sectionId"`
	Text      string  `gorm:"type:text;not null" json:"text"`
	Guidance  string  `gorm:"type:text" json:"guidance"`
	Position  int     `gorm:"default:0" json:"position"`
}

func (Question) TableName() string {
	return "perguntas"
}

// SectionKey 返回分区 ID，未分配时为空串
func (q Question) SectionKey() string {
	if q.SectionID == nil {
		return ""
	}
	return *q.SectionID
}
