package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Section 参与汇总的分区
type Section struct {
	ID   string
	Name string
}

// Question 参与汇总的题目，SectionID 为空表示未分配分区
type Question struct {
	ID        string
	SectionID string
}

// Answer 参与汇总的回答
type Answer struct {
	QuestionID string
	Response   Response
	Score      decimal.Decimal
	UpdatedAt  time.Time
}

// SectionScore 单个分区的汇总结果
type SectionScore struct {
	SectionID     string          `json:"sectionId"`
	Name          string          `json:"name"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	AnsweredCount int             `json:"answeredCount"`
	QuestionCount int             `json:"questionCount"`
	Complete      bool            `json:"complete"`
}

// Percent 分区完成度 [0,100]，没有题目的分区视为 100
func (s SectionScore) Percent() float64 {
	return percent(s.AnsweredCount, s.QuestionCount)
}

// Report 一次审核的汇总结果
type Report struct {
	Sections      []SectionScore  `json:"sections"`
	Total         decimal.Decimal `json:"total"`
	Answered      int             `json:"answered"`
	QuestionCount int             `json:"questionCount"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// Progress 全部题目的完成百分比 [0,100]
func (r Report) Progress() float64 {
	return percent(r.Answered, r.QuestionCount)
}

// Complete 所有分区均已完成
func (r Report) Complete() bool {
	for _, s := range r.Sections {
		if !s.Complete {
			return false
		}
	}
	return true
}

// Section 按 ID 查找分区结果
func (r Report) Section(id string) (SectionScore, bool) {
	for _, s := range r.Sections {
		if s.SectionID == id {
			return s, true
		}
	}
	return SectionScore{}, false
}

func percent(answered, total int) float64 {
	if total <= 0 {
		return 100
	}
	p := float64(answered) / float64(total) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Latest 对同一题目的多条回答只保留最近写入的一条。
// UpdatedAt 相同时以输入中靠后的为准。
func Latest(answers []Answer) map[string]Answer {
	out := make(map[string]Answer, len(answers))
	for _, a := range answers {
		prev, ok := out[a.QuestionID]
		if ok && a.UpdatedAt.Before(prev.UpdatedAt) {
			continue
		}
		out[a.QuestionID] = a
	}
	return out
}

// Aggregate 计算每个分区的小计与总分。
//
// 所有已知分区都会出现在结果中（没有回答的小计为 0）；
// 找不到分区的题目不计入小计，只记录到 Warnings。
func Aggregate(sections []Section, questions []Question, answers []Answer) Report {
	index := make(map[string]int, len(sections))
	scores := make([]SectionScore, len(sections))
	for i, s := range sections {
		index[s.ID] = i
		scores[i] = SectionScore{SectionID: s.ID, Name: s.Name, Subtotal: decimal.Zero}
	}

	report := Report{Total: decimal.Zero}
	latest := Latest(answers)

	known := make(map[string]bool, len(questions))
	sectionOf := make(map[string]int, len(questions))
	for _, q := range questions {
		known[q.ID] = true
		i, ok := index[q.SectionID]
		if !ok {
			if q.SectionID == "" {
				report.Warnings = append(report.Warnings, fmt.Sprintf("question %s has no section", q.ID))
			} else {
				report.Warnings = append(report.Warnings, fmt.Sprintf("question %s references unknown section %s", q.ID, q.SectionID))
			}
			continue
		}
		sectionOf[q.ID] = i
		scores[i].QuestionCount++
	}

	var orphans []string
	for qid, a := range latest {
		i, ok := sectionOf[qid]
		if !ok {
			if !known[qid] {
				orphans = append(orphans, qid)
			}
			continue
		}
		scores[i].AnsweredCount++
		scores[i].Subtotal = scores[i].Subtotal.Add(a.Score)
	}

	sort.Strings(orphans)
	for _, qid := range orphans {
		report.Warnings = append(report.Warnings, fmt.Sprintf("answer references unknown question %s", qid))
	}

	for i := range scores {
		scores[i].Complete = scores[i].AnsweredCount >= scores[i].QuestionCount
		report.Total = report.Total.Add(scores[i].Subtotal)
		report.Answered += scores[i].AnsweredCount
		report.QuestionCount += scores[i].QuestionCount
	}
	report.Sections = scores
	return report
}

// CriticalItems 返回得分 <= 0 的回答（导出报告中的关注项），按题目顺序
func CriticalItems(questions []Question, answers []Answer) []Answer {
	latest := Latest(answers)
	var out []Answer
	for _, q := range questions {
		a, ok := latest[q.ID]
		if !ok {
			continue
		}
		if a.Score.LessThanOrEqual(decimal.Zero) {
			out = append(out, a)
		}
	}
	return out
}
