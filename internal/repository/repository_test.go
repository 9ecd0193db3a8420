package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"store_audit_backend/internal/model"
	"store_audit_backend/internal/scoring"
	"store_audit_backend/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 在临时目录中创建 SQLite 数据库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err, "Failed to create test database")

	err = db.AutoMigrate(&model.User{}, &model.Store{}, &model.Section{}, &model.Question{}, &model.Audit{}, &model.Answer{})
	require.NoError(t, err, "Failed to migrate schema")
	return db
}

func seedAudit(t *testing.T, db *gorm.DB) *model.Audit {
	t.Helper()
	store := &model.Store{Name: "Loja Centro", Code: model.GenerateUUID()[:8], Active: true}
	require.NoError(t, db.Create(store).Error)
	audit := &model.Audit{StoreID: store.ID, SupervisorName: "Ana", ManagerName: "Bruno", Status: model.AuditInProgress}
	require.NoError(t, db.Create(audit).Error)
	return audit
}

func TestUpsertAnswerKeepsOneRowPerQuestion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)
	audit := seedAudit(t, db)
	ctx := context.Background()

	first, err := repo.UpsertAnswer(ctx, &model.Answer{
		AuditID: audit.ID, QuestionID: "q1", Response: scoring.Yes, Score: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	second, err := repo.UpsertAnswer(ctx, &model.Answer{
		AuditID: audit.ID, QuestionID: "q1", Response: scoring.Partial, Score: decimal.New(5, -1), Note: "balcão sujo",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "row identity should survive updates")
	assert.Equal(t, scoring.Partial, second.Response)
	assert.Equal(t, "0.5", second.Score.String())
	assert.Equal(t, "balcão sujo", second.Note)

	answers, err := repo.ListAnswers(ctx, audit.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, scoring.Partial, answers[0].Response)
}

func TestUpdateTotalsIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)
	audit := seedAudit(t, db)
	ctx := context.Background()

	require.NoError(t, repo.UpdateTotals(ctx, audit.ID, decimal.RequireFromString("1.5"), model.AuditConcluded))
	a1, err := repo.FindByID(ctx, audit.ID)
	require.NoError(t, err)
	require.NotNil(t, a1.ConcludedAt)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.UpdateTotals(ctx, audit.ID, decimal.RequireFromString("1.5"), model.AuditConcluded))
	a2, err := repo.FindByID(ctx, audit.ID)
	require.NoError(t, err)

	assert.Equal(t, "1.5", a2.Total.String())
	assert.Equal(t, model.AuditConcluded, a2.Status)
	assert.True(t, a1.ConcludedAt.Equal(*a2.ConcludedAt), "concluded_at should not move on repeated saves")

	require.NoError(t, repo.UpdateTotals(ctx, audit.ID, decimal.NewFromInt(1), model.AuditInProgress))
	a3, err := repo.FindByID(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AuditInProgress, a3.Status)
	assert.Nil(t, a3.ConcludedAt)
}

func TestDeleteAuditCascadesAnswers(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)
	audit := seedAudit(t, db)
	other := seedAudit(t, db)
	ctx := context.Background()

	for _, id := range []string{audit.ID, other.ID} {
		_, err := repo.UpsertAnswer(ctx, &model.Answer{AuditID: id, QuestionID: "q1", Response: scoring.No, Score: decimal.NewFromInt(-1)})
		require.NoError(t, err)
	}

	require.NoError(t, repo.Delete(ctx, audit.ID))

	_, err := repo.FindByID(ctx, audit.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	answers, err := repo.ListAnswers(ctx, audit.ID)
	require.NoError(t, err)
	assert.Empty(t, answers)

	answers, err = repo.ListAnswers(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 1)

	assert.ErrorIs(t, repo.Delete(ctx, audit.ID), gorm.ErrRecordNotFound)
}

func TestAuditWritesRequireExistingAudit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)
	audit := seedAudit(t, db)
	ctx := context.Background()

	_, err := repo.UpsertAnswer(ctx, &model.Answer{AuditID: "missing", QuestionID: "q1", Response: scoring.Yes, Score: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.ErrorIs(t, repo.UpdateTotals(ctx, "missing", decimal.NewFromInt(1), model.AuditConcluded), gorm.ErrRecordNotFound)

	require.NoError(t, repo.Delete(ctx, audit.ID))
	_, err = repo.UpsertAnswer(ctx, &model.Answer{AuditID: audit.ID, QuestionID: "q1", Response: scoring.Yes, Score: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.ErrorIs(t, repo.UpdateTotals(ctx, audit.ID, decimal.NewFromInt(1), model.AuditConcluded), gorm.ErrRecordNotFound)

	var rows int64
	require.NoError(t, db.Model(&model.Answer{}).Where("audit_id = ?", audit.ID).Count(&rows).Error)
	assert.Zero(t, rows)

	store := NewAuditStore(NewCatalogRepository(db, nil), repo)
	_, err = store.UpsertAnswer(ctx, audit.ID, "q1", scoring.Yes, decimal.NewFromInt(1), "", "")
	assert.ErrorIs(t, err, util.ErrAuditNotFound)
	assert.ErrorIs(t, store.UpdateAuditTotals(ctx, audit.ID, decimal.NewFromInt(1), model.AuditConcluded), util.ErrAuditNotFound)
}

func TestListAuditsFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()
	a := seedAudit(t, db)
	seedAudit(t, db)
	require.NoError(t, repo.UpdateTotals(ctx, a.ID, decimal.NewFromInt(3), model.AuditConcluded))

	all, total, err := repo.List(ctx, 1, 10, AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)
	assert.NotNil(t, all[0].Store)

	concluded, total, err := repo.List(ctx, 1, 10, AuditFilter{Status: model.AuditConcluded})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, a.ID, concluded[0].ID)

	byStore, _, err := repo.List(ctx, 1, 10, AuditFilter{StoreID: a.StoreID})
	require.NoError(t, err)
	assert.Len(t, byStore, 1)
}

func TestCatalogCacheInvalidatedOnWrite(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db, NewMemoryCatalogCache(time.Minute))
	ctx := context.Background()

	require.NoError(t, repo.CreateSection(ctx, &model.Section{Name: "Checkout", Position: 2}))
	sections, err := repo.ListSections(ctx)
	require.NoError(t, err)
	require.Len(t, sections, 1)

	// 绕过仓库直接写库，缓存仍返回旧数据
	require.NoError(t, db.Create(&model.Section{Name: "Cozinha", Position: 1}).Error)
	sections, err = repo.ListSections(ctx)
	require.NoError(t, err)
	assert.Len(t, sections, 1)

	// 经仓库写入会使缓存失效
	sid := sections[0].ID
	require.NoError(t, repo.CreateQuestion(ctx, &model.Question{SectionID: &sid, Text: "Caixa limpo?"}))
	sections, err = repo.ListSections(ctx)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "Cozinha", sections[0].Name, "sections are ordered by position")

	questions, err := repo.ListQuestions(ctx)
	require.NoError(t, err)
	assert.Len(t, questions, 1)
}

func TestMemoryCatalogCacheSkipsFillAfterInvalidate(t *testing.T) {
	cache := NewMemoryCatalogCache(time.Minute)
	ctx := context.Background()

	gen, ok := cache.Generation(ctx)
	require.True(t, ok)
	cache.Invalidate(ctx)
	cache.SetSections(ctx, gen, []model.Section{{Name: "Checkout"}})
	cache.SetQuestions(ctx, gen, []model.Question{{Text: "Caixa limpo?"}})

	_, hit := cache.Sections(ctx)
	assert.False(t, hit)
	_, hit = cache.Questions(ctx)
	assert.False(t, hit)

	gen, _ = cache.Generation(ctx)
	cache.SetSections(ctx, gen, []model.Section{{Name: "Checkout"}})
	sections, hit := cache.Sections(ctx)
	require.True(t, hit)
	assert.Equal(t, "Checkout", sections[0].Name)
}

func TestCatalogCacheNotFilledWithRowsReadBeforeWrite(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db, NewMemoryCatalogCache(time.Minute))
	ctx := context.Background()
	require.NoError(t, repo.CreateSection(ctx, &model.Section{Name: "Checkout", Position: 1}))

	// 查询返回之后、回填缓存之前，另一个写入完成并使缓存失效
	fired := false
	err := db.Callback().Query().After("gorm:query").Register("test:write_after_read", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != (model.Section{}).TableName() {
			return
		}
		fired = true
		require.NoError(t, repo.CreateSection(ctx, &model.Section{Name: "Estoque", Position: 2}))
	})
	require.NoError(t, err)

	sections, err := repo.ListSections(ctx)
	require.NoError(t, err)
	require.True(t, fired)
	assert.Len(t, sections, 1, "read happened before the write")

	sections, err = repo.ListSections(ctx)
	require.NoError(t, err)
	assert.Len(t, sections, 2)
}

func TestDeleteSectionOrphansQuestions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db, nil)
	ctx := context.Background()

	section := &model.Section{Name: "Estoque"}
	require.NoError(t, repo.CreateSection(ctx, section))
	q := &model.Question{SectionID: &section.ID, Text: "Validade conferida?"}
	require.NoError(t, repo.CreateQuestion(ctx, q))

	require.NoError(t, repo.DeleteSection(ctx, section.ID))

	stored, err := repo.FindQuestionByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.SectionID)
}

func TestAuditStoreRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := NewAuditStore(NewCatalogRepository(db, nil), NewAuditRepository(db))
	audit := seedAudit(t, db)
	ctx := context.Background()

	got, err := store.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.SupervisorName)
	require.NotNil(t, got.Store)

	saved, err := store.UpsertAnswer(ctx, audit.ID, "q1", scoring.No, decimal.NewFromInt(-1), "", "uploads/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.jpg", saved.AttachmentRef)

	require.NoError(t, store.UpdateAuditTotals(ctx, audit.ID, decimal.NewFromInt(-1), model.AuditInProgress))
	got, err = store.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, "-1", got.Total.String())
}
