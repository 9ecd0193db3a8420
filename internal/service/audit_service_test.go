package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"store_audit_backend/internal/config"
	"store_audit_backend/internal/model"
	"store_audit_backend/internal/repository"
	"store_audit_backend/internal/scoring"
	"store_audit_backend/internal/util"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testEnv struct {
	db       *gorm.DB
	catalog  *repository.CatalogRepository
	audits   *repository.AuditRepository
	stores   *repository.StoreRepository
	users    *repository.UserRepository
	sessions *SessionManager
	service  *AuditService
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Store{}, &model.Section{}, &model.Question{}, &model.Audit{}, &model.Answer{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		db:      db,
		catalog: repository.NewCatalogRepository(db, repository.NewMemoryCatalogCache(time.Minute)),
		audits:  repository.NewAuditRepository(db),
		stores:  repository.NewStoreRepository(db),
		users:   repository.NewUserRepository(db),
	}
	env.sessions = NewSessionManager(repository.NewAuditStore(env.catalog, env.audits), 0, time.Second, time.Hour)
	env.service = NewAuditService(env.audits, env.catalog, env.stores, env.sessions)
	return env
}

// seedCatalog Checkout(2 题) + Estoque(1 题)
func (e *testEnv) seedCatalog(t *testing.T) (checkout []model.Question, stock model.Question) {
	t.Helper()
	ctx := context.Background()
	s1 := &model.Section{Name: "Checkout", Position: 1}
	s2 := &model.Section{Name: "Estoque", Position: 2}
	require.NoError(t, e.catalog.CreateSection(ctx, s1))
	require.NoError(t, e.catalog.CreateSection(ctx, s2))
	for i, text := range []string{"Caixa limpo?", "Troco conferido?"} {
		q := model.Question{SectionID: &s1.ID, Text: text, Position: i}
		require.NoError(t, e.catalog.CreateQuestion(ctx, &q))
		checkout = append(checkout, q)
	}
	stock = model.Question{SectionID: &s2.ID, Text: "Validade conferida?"}
	require.NoError(t, e.catalog.CreateQuestion(ctx, &stock))
	return checkout, stock
}

func (e *testEnv) startAudit(t *testing.T) *model.Audit {
	t.Helper()
	auditor := &model.User{Name: "Carla", Email: model.GenerateUUID()[:8] + "@example.com", Password: "x", Role: model.Auditor}
	require.NoError(t, e.users.Create(auditor))
	store := &model.Store{Name: "Loja Centro", Code: model.GenerateUUID()[:8], Active: true}
	require.NoError(t, e.stores.Create(store))

	audit, err := e.service.Start(context.Background(), auditor.ID, StartAuditRequest{
		StoreID: store.ID, SupervisorName: " Ana ", ManagerName: "Bruno",
	})
	require.NoError(t, err)
	return audit
}

func TestAuditServiceStart(t *testing.T) {
	env := setupTestEnv(t)
	audit := env.startAudit(t)

	assert.Equal(t, model.AuditInProgress, audit.Status)
	assert.Equal(t, "Ana", audit.SupervisorName)
	assert.True(t, audit.Total.IsZero())

	_, err := env.service.Start(context.Background(), "", StartAuditRequest{StoreID: "missing"})
	assert.ErrorIs(t, err, util.ErrStoreNotFound)
}

func TestAuditServiceSessionEndToEnd(t *testing.T) {
	env := setupTestEnv(t)
	checkout, stock := env.seedCatalog(t)
	audit := env.startAudit(t)
	ctx := context.Background()

	s, err := env.sessions.Open(ctx, audit.ID)
	require.NoError(t, err)

	_, err = s.Answer(ctx, checkout[0].ID, scoring.Yes)
	require.NoError(t, err)
	_, err = s.Answer(ctx, checkout[1].ID, scoring.No)
	require.NoError(t, err)
	_, err = s.Answer(ctx, checkout[1].ID, scoring.Partial)
	require.NoError(t, err)
	_, err = s.SetNote(ctx, checkout[1].ID, "moedas faltando")
	require.NoError(t, err)

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AuditInProgress, saved.Status, "Estoque is not answered yet")

	_, err = s.Answer(ctx, stock.ID, scoring.No)
	require.NoError(t, err)
	saved, err = s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AuditConcluded, saved.Status)
	assert.Equal(t, "0.5", saved.Total.String())

	report, err := env.service.Report(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AuditConcluded, report.Audit.Status)
	assert.Equal(t, 0.5, report.Total)
	assert.Equal(t, "0.5", report.TotalExact)
	assert.True(t, report.Complete)
	require.Len(t, report.Sections, 2)
	assert.Equal(t, 1.5, report.Sections[0].Subtotal)
	assert.Equal(t, -1.0, report.Sections[1].Subtotal)
	require.Len(t, report.Critical, 1)
	assert.Equal(t, "Validade conferida?", report.Critical[0].Question)
	assert.Equal(t, "Estoque", report.Critical[0].SectionName)

	answers, err := env.audits.ListAnswers(ctx, audit.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 3)
}

func TestAuditServiceDeleteClosesSession(t *testing.T) {
	env := setupTestEnv(t)
	checkout, _ := env.seedCatalog(t)
	audit := env.startAudit(t)
	ctx := context.Background()

	s, err := env.sessions.Open(ctx, audit.ID)
	require.NoError(t, err)
	_, err = s.Answer(ctx, checkout[0].ID, scoring.Yes)
	require.NoError(t, err)

	require.NoError(t, env.service.Delete(ctx, audit.ID))
	_, err = env.sessions.Get(audit.ID)
	assert.ErrorIs(t, err, util.ErrSessionNotOpen)

	_, err = env.service.Get(ctx, audit.ID)
	assert.ErrorIs(t, err, util.ErrAuditNotFound)
	assert.ErrorIs(t, env.service.Delete(ctx, audit.ID), util.ErrAuditNotFound)

	answers, err := env.audits.ListAnswers(ctx, audit.ID)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestAuditServiceDeleteRejectsWritesFromHeldSession(t *testing.T) {
	env := setupTestEnv(t)
	checkout, stock := env.seedCatalog(t)
	audit := env.startAudit(t)
	ctx := context.Background()

	s, err := env.sessions.Open(ctx, audit.ID)
	require.NoError(t, err)
	_, err = s.Answer(ctx, checkout[0].ID, scoring.Yes)
	require.NoError(t, err)

	require.NoError(t, env.service.Delete(ctx, audit.ID))
	assert.True(t, s.Closed())

	// 删除前拿到的会话句柄
	for _, q := range []model.Question{checkout[0], checkout[1], stock} {
		_, err = s.Answer(ctx, q.ID, scoring.Yes)
		assert.ErrorIs(t, err, util.ErrSessionNotOpen)
	}
	_, err = s.SetNote(ctx, checkout[0].ID, "caixa aberto")
	assert.ErrorIs(t, err, util.ErrSessionNotOpen)
	res, err := s.Save(ctx)
	assert.ErrorIs(t, err, util.ErrSessionNotOpen)
	assert.Nil(t, res)

	var rows int64
	require.NoError(t, env.db.Model(&model.Answer{}).Where("audit_id = ?", audit.ID).Count(&rows).Error)
	assert.Zero(t, rows)

	var stored model.Audit
	require.NoError(t, env.db.Unscoped().First(&stored, "id = ?", audit.ID).Error)
	assert.Equal(t, model.AuditInProgress, stored.Status)
	assert.Nil(t, stored.ConcludedAt)
}

func TestAuditSessionWritesFailAfterAuditRemoved(t *testing.T) {
	env := setupTestEnv(t)
	checkout, stock := env.seedCatalog(t)
	audit := env.startAudit(t)
	ctx := context.Background()
	store := repository.NewAuditStore(env.catalog, env.audits)

	// 不经过 SessionManager，审核被其他进程删除
	answering := NewAuditSession(store, audit.ID, time.Second)
	require.NoError(t, answering.Open(ctx))
	saving := NewAuditSession(store, audit.ID, time.Second)
	require.NoError(t, saving.Open(ctx))
	require.NoError(t, env.audits.Delete(ctx, audit.ID))

	_, err := answering.Answer(ctx, checkout[0].ID, scoring.Yes)
	assert.ErrorIs(t, err, util.ErrAuditNotFound)
	assert.True(t, answering.Closed())
	assert.Empty(t, answering.Progress().Pending)
	_, err = answering.Answer(ctx, stock.ID, scoring.Yes)
	assert.ErrorIs(t, err, util.ErrSessionNotOpen)

	res, err := saving.Save(ctx)
	assert.ErrorIs(t, err, util.ErrAuditNotFound)
	assert.Nil(t, res)
	assert.True(t, saving.Closed())

	_, err = env.sessions.Open(ctx, audit.ID)
	assert.ErrorIs(t, err, util.ErrAuditNotFound)

	var rows int64
	require.NoError(t, env.db.Model(&model.Answer{}).Where("audit_id = ?", audit.ID).Count(&rows).Error)
	assert.Zero(t, rows)

	var stored model.Audit
	require.NoError(t, env.db.Unscoped().First(&stored, "id = ?", audit.ID).Error)
	assert.Equal(t, model.AuditInProgress, stored.Status)
}

type fakeRenderer struct {
	html string
	err  error
}

func (f *fakeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 fake"), nil
}

type fakeNotifier struct {
	message string
	params  stypes.Params
	err     error
}

func (f *fakeNotifier) Send(message string, params *stypes.Params) []error {
	f.message = message
	f.params = *params
	return []error{f.err}
}

func newTestExport(t *testing.T, env *testEnv) (*ExportService, *fakeRenderer, *fakeNotifier, string) {
	t.Helper()
	root := t.TempDir()
	renderer := &fakeRenderer{}
	notifier := &fakeNotifier{}
	return &ExportService{
		Audits:   env.service,
		Storage:  &StorageService{Provider: &LocalStorageProvider{Root: root}},
		Renderer: renderer,
		Notifier: notifier,
		Cfg:      &config.ExportConfig{AdminEmail: "admin@example.com", BaseURL: "https://audit.example.com/"},
	}, renderer, notifier, root
}

func TestExportRendersStoresAndEmails(t *testing.T) {
	env := setupTestEnv(t)
	checkout, _ := env.seedCatalog(t)
	audit := env.startAudit(t)
	ctx := context.Background()

	_, err := env.audits.UpsertAnswer(ctx, &model.Answer{AuditID: audit.ID, QuestionID: checkout[0].ID, Response: scoring.No, Score: mustScore(t, scoring.No), Note: "fila grande"})
	require.NoError(t, err)

	export, renderer, notifier, root := newTestExport(t, env)
	res, err := export.Export(ctx, audit.ID, true)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Key, "reports/"+audit.ID+"/"))
	assert.Equal(t, "/uploads/"+res.Key, res.URL)
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(res.Key)))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	assert.Contains(t, renderer.html, "Loja Centro")
	assert.Contains(t, renderer.html, "Caixa limpo?")
	assert.Contains(t, renderer.html, "fila grande")

	assert.True(t, res.Emailed)
	require.Len(t, res.Recipients, 2)
	assert.Equal(t, "admin@example.com", res.Recipients[1])
	assert.Contains(t, notifier.params["toaddresses"], "admin@example.com")
	assert.Contains(t, notifier.message, "https://audit.example.com/uploads/reports/")
	assert.Contains(t, notifier.message, "Itens críticos: 1")
}

func TestExportEmailFailureStillStoresReport(t *testing.T) {
	env := setupTestEnv(t)
	env.seedCatalog(t)
	audit := env.startAudit(t)

	export, _, notifier, _ := newTestExport(t, env)
	notifier.err = errors.New("smtp: 421 service not available")

	res, err := export.Export(context.Background(), audit.ID, true)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Key)
	assert.False(t, res.Emailed)
}

func TestExportWithoutNotifier(t *testing.T) {
	env := setupTestEnv(t)
	audit := env.startAudit(t)

	export, _, _, _ := newTestExport(t, env)
	export.Notifier = nil

	res, err := export.Export(context.Background(), audit.ID, false)
	require.NoError(t, err)
	assert.False(t, res.Emailed)

	_, err = export.Export(context.Background(), audit.ID, true)
	assert.ErrorIs(t, err, util.ErrExportUnavailable)
}

func TestExportRecipientsDeduplicated(t *testing.T) {
	export := &ExportService{Cfg: &config.ExportConfig{AdminEmail: "Ana@Example.com"}}
	report := &AuditReport{Audit: &model.Audit{Auditor: &model.User{Email: "ana@example.com"}}}
	assert.Equal(t, []string{"ana@example.com"}, export.Recipients(report))
}

func mustScore(t *testing.T, r scoring.Response) decimal.Decimal {
	t.Helper()
	v, err := scoring.ScoreOf(r)
	require.NoError(t, err)
	return v
}
