package scoring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answer(t *testing.T, qid string, r Response, at time.Time) Answer {
	t.Helper()
	score, err := ScoreOf(r)
	require.NoError(t, err)
	return Answer{QuestionID: qid, Response: r, Score: score, UpdatedAt: at}
}

func TestAggregateEmptySectionsReportZero(t *testing.T) {
	sections := []Section{{ID: "s1", Name: "Checkout"}, {ID: "s2", Name: "Kitchen"}}
	questions := []Question{{ID: "q1", SectionID: "s1"}, {ID: "q2", SectionID: "s2"}}

	report := Aggregate(sections, questions, []Answer{answer(t, "q1", Yes, time.Now())})

	require.Len(t, report.Sections, 2)
	kitchen, ok := report.Section("s2")
	require.True(t, ok)
	assert.True(t, kitchen.Subtotal.IsZero())
	assert.Equal(t, 0, kitchen.AnsweredCount)
	assert.Equal(t, 1, kitchen.QuestionCount)
	assert.False(t, kitchen.Complete)
}

func TestAggregateKeepsLatestAnswerPerQuestion(t *testing.T) {
	sections := []Section{{ID: "s1"}}
	questions := []Question{{ID: "q1", SectionID: "s1"}}
	t0 := time.Now()

	report := Aggregate(sections, questions, []Answer{
		answer(t, "q1", Yes, t0.Add(time.Second)),
		answer(t, "q1", No, t0),
	})
	assert.Equal(t, "1", report.Total.String())
	assert.Equal(t, 1, report.Answered)

	// 时间相同时以后出现的为准
	report = Aggregate(sections, questions, []Answer{
		answer(t, "q1", Yes, t0),
		answer(t, "q1", Partial, t0),
	})
	assert.Equal(t, "0.5", report.Total.String())
}

func TestAggregateTotalEqualsSumOfSubtotals(t *testing.T) {
	sections := []Section{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	questions := []Question{
		{ID: "a1", SectionID: "a"}, {ID: "a2", SectionID: "a"},
		{ID: "b1", SectionID: "b"}, {ID: "b2", SectionID: "b"}, {ID: "b3", SectionID: "b"},
		{ID: "c1", SectionID: "c"},
	}
	now := time.Now()
	answers := []Answer{
		answer(t, "a1", Partial, now),
		answer(t, "a2", Yes, now),
		answer(t, "b1", No, now),
		answer(t, "b2", Partial, now),
		answer(t, "b3", Partial, now),
		answer(t, "c1", NotApplicable, now),
	}

	report := Aggregate(sections, questions, answers)

	sum := decimal.Zero
	for _, s := range report.Sections {
		sum = sum.Add(s.Subtotal)
	}
	assert.True(t, sum.Equal(report.Total))
	assert.Equal(t, "1.5", report.Sections[0].Subtotal.String())
	assert.Equal(t, "0", report.Sections[1].Subtotal.String())
	assert.Equal(t, "1.5", report.Total.String())
	assert.True(t, report.Complete())
	assert.Equal(t, 100.0, report.Progress())
}

func TestAggregateSectionCompletion(t *testing.T) {
	sections := []Section{{ID: "s1"}}
	questions := []Question{{ID: "q1", SectionID: "s1"}, {ID: "q2", SectionID: "s1"}, {ID: "q3", SectionID: "s1"}}
	now := time.Now()

	var answers []Answer
	for i, qid := range []string{"q3", "q1"} {
		answers = append(answers, answer(t, qid, Yes, now))
		report := Aggregate(sections, questions, answers)
		assert.False(t, report.Sections[0].Complete, "after %d answers", i+1)
	}

	answers = append(answers, answer(t, "q2", No, now))
	report := Aggregate(sections, questions, answers)
	assert.True(t, report.Sections[0].Complete)
	assert.Equal(t, 3, report.Sections[0].AnsweredCount)
}

func TestAggregateCheckoutScenario(t *testing.T) {
	sections := []Section{{ID: "checkout", Name: "Checkout"}}
	questions := []Question{{ID: "q1", SectionID: "checkout"}, {ID: "q2", SectionID: "checkout"}}
	t0 := time.Now()

	answers := []Answer{answer(t, "q1", Yes, t0), answer(t, "q2", No, t0)}
	report := Aggregate(sections, questions, answers)
	assert.Equal(t, "0", report.Sections[0].Subtotal.String())
	assert.True(t, report.Sections[0].Complete)
	assert.Equal(t, "0", report.Total.String())

	answers = append(answers, answer(t, "q2", Partial, t0.Add(time.Second)))
	report = Aggregate(sections, questions, answers)
	assert.Equal(t, "1.5", report.Sections[0].Subtotal.String())
	assert.Equal(t, "1.5", report.Total.String())
	assert.True(t, report.Sections[0].Complete)
}

func TestAggregateEmptySectionIsVacuouslyComplete(t *testing.T) {
	sections := []Section{{ID: "empty"}, {ID: "s1"}}
	questions := []Question{{ID: "q1", SectionID: "s1"}}

	report := Aggregate(sections, questions, nil)

	empty, ok := report.Section("empty")
	require.True(t, ok)
	assert.True(t, empty.Complete)
	assert.Equal(t, 100.0, empty.Percent())
	assert.True(t, empty.Subtotal.IsZero())
	assert.False(t, report.Complete())

	report = Aggregate(sections, questions, []Answer{answer(t, "q1", No, time.Now())})
	assert.True(t, report.Complete())
	assert.Equal(t, "-1", report.Total.String())
}

func TestAggregateToleratesOrphans(t *testing.T) {
	sections := []Section{{ID: "s1"}}
	questions := []Question{
		{ID: "q1", SectionID: "s1"},
		{ID: "q2", SectionID: "gone"},
		{ID: "q3"},
	}
	now := time.Now()
	answers := []Answer{
		answer(t, "q1", Yes, now),
		answer(t, "q2", Yes, now),
		answer(t, "q9", Yes, now),
	}

	report := Aggregate(sections, questions, answers)

	assert.Equal(t, "1", report.Total.String())
	assert.Equal(t, 1, report.QuestionCount)
	assert.Len(t, report.Warnings, 3)
	assert.Contains(t, report.Warnings[0], "unknown section gone")
	assert.Contains(t, report.Warnings[1], "no section")
	assert.Contains(t, report.Warnings[2], "unknown question q9")
}

func TestProgressIsClamped(t *testing.T) {
	assert.Equal(t, 100.0, Report{}.Progress())
	assert.Equal(t, 50.0, Report{Answered: 1, QuestionCount: 2}.Progress())
	assert.Equal(t, 100.0, Report{Answered: 3, QuestionCount: 2}.Progress())
}

func TestCriticalItems(t *testing.T) {
	questions := []Question{{ID: "q1"}, {ID: "q2"}, {ID: "q3"}, {ID: "q4"}}
	now := time.Now()
	items := CriticalItems(questions, []Answer{
		answer(t, "q4", No, now),
		answer(t, "q1", Yes, now),
		answer(t, "q2", NotApplicable, now),
	})
	require.Len(t, items, 2)
	assert.Equal(t, "q2", items[0].QuestionID)
	assert.Equal(t, "q4", items[1].QuestionID)
}
