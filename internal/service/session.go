package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"store_audit_backend/internal/model"
	"store_audit_backend/internal/scoring"
	"store_audit_backend/internal/util"
	"store_audit_backend/pkg/logger"
	"store_audit_backend/pkg/monitoring"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditPersistence 审核会话依赖的持久化协作者
type AuditPersistence interface {
	ListQuestions(ctx context.Context) ([]model.Question, error)
	ListSections(ctx context.Context) ([]model.Section, error)
	GetAudit(ctx context.Context, id string) (*model.Audit, error)
	ListAnswers(ctx context.Context, auditID string) ([]model.Answer, error)
	UpsertAnswer(ctx context.Context, auditID, questionID string, response scoring.Response, score decimal.Decimal, note, attachmentRef string) (*model.Answer, error)
	UpdateAuditTotals(ctx context.Context, auditID string, total decimal.Decimal, status model.AuditStatus) error
}

// PersistenceError 持久化调用失败（含超时）。会话内的乐观状态不会回滚。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Timeout 是否因超时失败
func (e *PersistenceError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// AuditSession 一次审核的答题会话。
//
// mu 保护全部内存状态，所有汇总都在 mu 内基于完整的回答集合重新计算；
// writeMu 串行化同一会话的持久化写入（以及刷新），保证本地顺序与写入顺序一致。
// 锁顺序固定为 writeMu -> mu。
type AuditSession struct {
	store   AuditPersistence
	timeout time.Duration

	writeMu sync.Mutex
	mu      sync.Mutex

	auditID     string
	audit       model.Audit
	sections    []model.Section
	questions   []model.Question
	questionIdx map[string]model.Question

	current     int
	answers     map[string]scoring.Answer
	notes       map[string]string
	attachments map[string]string
	completed   map[string]bool
	pending     map[string]bool
	isSaving    bool
	// closed 会话已关闭或审核已删除，之后拒绝一切写入
	closed bool

	report       scoring.Report
	lastActivity time.Time
}

// NewAuditSession 创建会话，需调用 Open 加载数据
func NewAuditSession(store AuditPersistence, auditID string, timeout time.Duration) *AuditSession {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuditSession{
		store:        store,
		timeout:      timeout,
		auditID:      auditID,
		questionIdx:  map[string]model.Question{},
		answers:      map[string]scoring.Answer{},
		notes:        map[string]string{},
		attachments:  map[string]string{},
		completed:    map[string]bool{},
		pending:      map[string]bool{},
		lastActivity: time.Now(),
	}
}

func (s *AuditSession) AuditID() string {
	return s.auditID
}

// close 标记会话关闭，并等待正在进行的写入结束
func (s *AuditSession) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	s.writeMu.Unlock()
}

// Closed 会话是否已关闭
func (s *AuditSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *AuditSession) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

type loaded struct {
	audit     *model.Audit
	sections  []model.Section
	questions []model.Question
	answers   []model.Answer
}

func (s *AuditSession) load(ctx context.Context) (*loaded, error) {
	pctx, cancel := s.persistCtx(ctx)
	defer cancel()

	audit, err := s.store.GetAudit(pctx, s.auditID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAuditNotFound
		}
		return nil, &PersistenceError{Op: "get_audit", Err: err}
	}
	sections, err := s.store.ListSections(pctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list_sections", Err: err}
	}
	questions, err := s.store.ListQuestions(pctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list_questions", Err: err}
	}
	answers, err := s.store.ListAnswers(pctx, s.auditID)
	if err != nil {
		return nil, &PersistenceError{Op: "list_answers", Err: err}
	}
	return &loaded{audit: audit, sections: sections, questions: questions, answers: answers}, nil
}

// Open 初始状态：加载已持久化的回答，计算分区完成情况，指向第一个分区
func (s *AuditSession) Open(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCatalogLocked(data)
	s.answers = map[string]scoring.Answer{}
	s.notes = map[string]string{}
	s.attachments = map[string]string{}
	s.pending = map[string]bool{}
	for _, a := range data.answers {
		s.absorbLocked(a)
	}
	s.current = 0
	s.recomputeLocked()
	s.lastActivity = time.Now()
	return nil
}

// Refresh 从持久层重新读取（轮询兜底）。
// 已持久化的行覆盖本地值，写入失败尚未重试成功的题目保留本地值。
func (s *AuditSession) Refresh(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.refreshLocked(ctx)
}

// TryRefresh 有写入进行中时直接跳过，返回是否执行了刷新
func (s *AuditSession) TryRefresh(ctx context.Context) (bool, error) {
	if !s.writeMu.TryLock() {
		return false, nil
	}
	defer s.writeMu.Unlock()
	return true, s.refreshLocked(ctx)
}

func (s *AuditSession) refreshLocked(ctx context.Context) error {
	data, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCatalogLocked(data)
	for _, a := range data.answers {
		if s.pending[a.QuestionID] {
			continue
		}
		s.absorbLocked(a)
	}
	if s.current >= len(s.sections) && len(s.sections) > 0 {
		s.current = len(s.sections) - 1
	}
	s.recomputeLocked()
	return nil
}

func (s *AuditSession) applyCatalogLocked(data *loaded) {
	s.audit = *data.audit
	s.sections = data.sections
	s.questions = data.questions
	s.questionIdx = make(map[string]model.Question, len(data.questions))
	for _, q := range data.questions {
		s.questionIdx[q.ID] = q
	}
}

func (s *AuditSession) absorbLocked(a model.Answer) {
	s.answers[a.QuestionID] = a.ScoringAnswer()
	if a.Note != "" {
		s.notes[a.QuestionID] = a.Note
	} else {
		delete(s.notes, a.QuestionID)
	}
	if a.AttachmentRef != "" {
		s.attachments[a.QuestionID] = a.AttachmentRef
	} else {
		delete(s.attachments, a.QuestionID)
	}
}

// recomputeLocked 基于完整回答集合重新汇总，不使用累加器
func (s *AuditSession) recomputeLocked() {
	start := time.Now()

	sections := make([]scoring.Section, len(s.sections))
	for i, sec := range s.sections {
		sections[i] = scoring.Section{ID: sec.ID, Name: sec.Name}
	}
	questions := make([]scoring.Question, len(s.questions))
	for i, q := range s.questions {
		questions[i] = scoring.Question{ID: q.ID, SectionID: q.SectionKey()}
	}
	answers := make([]scoring.Answer, 0, len(s.answers))
	for _, a := range s.answers {
		answers = append(answers, a)
	}

	s.report = scoring.Aggregate(sections, questions, answers)
	s.completed = make(map[string]bool, len(s.report.Sections))
	for _, sec := range s.report.Sections {
		if sec.Complete {
			s.completed[sec.SectionID] = true
		}
	}
	for _, w := range s.report.Warnings {
		logger.ForAudit(s.auditID).Debug("audit aggregation warning", zap.String("warning", w))
	}

	monitoring.RecomputeDuration.Observe(time.Since(start).Seconds())
}

// AnswerResult Answer/SetNote/SetAttachment 的返回
type AnswerResult struct {
	QuestionID string          `json:"questionId"`
	Persisted  bool            `json:"persisted"`
	Progress   SessionSnapshot `json:"progress"`
}

// Answer 记录一题的回答：先本地乐观更新，再写入持久层。
// 写入失败时返回 *PersistenceError，本地值保留并在 Save 时重试。
func (s *AuditSession) Answer(ctx context.Context, questionID string, response scoring.Response) (*AnswerResult, error) {
	score, err := scoring.ScoreOf(response)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, util.ErrSessionNotOpen
	}
	if _, ok := s.questionIdx[questionID]; !ok {
		s.mu.Unlock()
		return nil, util.ErrQuestionNotFound
	}
	s.answers[questionID] = scoring.Answer{
		QuestionID: questionID,
		Response:   response,
		Score:      score,
		UpdatedAt:  time.Now(),
	}
	note, ref := s.notes[questionID], s.attachments[questionID]
	s.recomputeLocked()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	monitoring.AnswersRecorded.WithLabelValues(string(response)).Inc()
	return s.persistAnswer(ctx, questionID, response, score, note, ref)
}

func (s *AuditSession) persistAnswer(ctx context.Context, questionID string, response scoring.Response, score decimal.Decimal, note, ref string) (*AnswerResult, error) {
	pctx, cancel := s.persistCtx(ctx)
	stored, err := s.store.UpsertAnswer(pctx, s.auditID, questionID, response, score, note, ref)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(err, util.ErrAuditNotFound) {
		// 审核已被删除：不再保留待重试的写入
		s.closed = true
		s.pending = map[string]bool{}
		logger.ForAudit(s.auditID).Warn("Audit deleted while session was open",
			zap.String("question_id", questionID))
		return nil, util.ErrAuditNotFound
	}
	if err != nil {
		s.pending[questionID] = true
		monitoring.PersistenceFailures.WithLabelValues("upsert_answer").Inc()
		logger.ForAudit(s.auditID).Warn("Failed to persist answer, keeping local value",
			zap.String("question_id", questionID),
			zap.Error(err))
		return &AnswerResult{QuestionID: questionID, Progress: s.snapshotLocked()}, &PersistenceError{Op: "upsert_answer", Err: err}
	}

	delete(s.pending, questionID)
	// 持久层返回的分值必须与枚举映射一致
	if expected, verr := scoring.ScoreOf(stored.Response); verr != nil || !expected.Equal(stored.Score) {
		logger.ForAudit(s.auditID).Error("Stored answer score diverges from response mapping",
			zap.String("question_id", questionID),
			zap.String("response", string(stored.Response)),
			zap.String("score", stored.Score.String()))
	} else {
		s.absorbLocked(*stored)
	}
	s.recomputeLocked()
	return &AnswerResult{QuestionID: questionID, Persisted: true, Progress: s.snapshotLocked()}, nil
}

// SetNote 设置题目备注。题目尚未回答时只保存在会话中，回答时一起写入。
func (s *AuditSession) SetNote(ctx context.Context, questionID, note string) (*AnswerResult, error) {
	return s.setExtra(ctx, questionID, func() {
		if note == "" {
			delete(s.notes, questionID)
		} else {
			s.notes[questionID] = note
		}
	})
}

// SetAttachment 设置题目附件引用，规则同 SetNote
func (s *AuditSession) SetAttachment(ctx context.Context, questionID, ref string) (*AnswerResult, error) {
	return s.setExtra(ctx, questionID, func() {
		if ref == "" {
			delete(s.attachments, questionID)
		} else {
			s.attachments[questionID] = ref
		}
	})
}

func (s *AuditSession) setExtra(ctx context.Context, questionID string, apply func()) (*AnswerResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, util.ErrSessionNotOpen
	}
	if _, ok := s.questionIdx[questionID]; !ok {
		s.mu.Unlock()
		return nil, util.ErrQuestionNotFound
	}
	apply()
	s.lastActivity = time.Now()
	a, answered := s.answers[questionID]
	note, ref := s.notes[questionID], s.attachments[questionID]
	if !answered {
		res := &AnswerResult{QuestionID: questionID, Progress: s.snapshotLocked()}
		s.mu.Unlock()
		return res, nil
	}
	s.mu.Unlock()

	return s.persistAnswer(ctx, questionID, a.Response, a.Score, note, ref)
}

// NavResult 分区导航结果
type NavResult struct {
	Index   int    `json:"index"`
	Moved   bool   `json:"moved"`
	Warning string `json:"warning,omitempty"`
}

// Next 前进到下一个分区。当前分区未完成时给出提示但不阻止；已在最后一个分区时不移动。
func (s *AuditSession) Next() NavResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	res := NavResult{Index: s.current}
	if len(s.sections) == 0 {
		return res
	}
	cur := s.sections[s.current]
	if !s.completed[cur.ID] {
		if sc, ok := s.report.Section(cur.ID); ok {
			res.Warning = fmt.Sprintf("section %q has %d unanswered question(s)", cur.Name, sc.QuestionCount-sc.AnsweredCount)
		}
	}
	if s.current < len(s.sections)-1 {
		s.current++
		res.Moved = true
	}
	res.Index = s.current
	return res
}

// Previous 回到上一个分区，已在第一个分区时返回 ErrAtFirstSection
func (s *AuditSession) Previous() (NavResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	if s.current == 0 {
		return NavResult{Index: 0}, util.ErrAtFirstSection
	}
	s.current--
	return NavResult{Index: s.current, Moved: true}, nil
}

// GoTo 直接跳到指定分区
func (s *AuditSession) GoTo(index int) (NavResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	if index < 0 || index >= len(s.sections) {
		return NavResult{Index: s.current}, util.ErrSectionNotFound
	}
	moved := index != s.current
	s.current = index
	return NavResult{Index: s.current, Moved: moved}, nil
}

// SaveResult 保存结果
type SaveResult struct {
	Total    decimal.Decimal   `json:"total"`
	Status   model.AuditStatus `json:"status"`
	Complete bool              `json:"complete"`
}

// Save 先重试写入失败的回答，再基于全部回答重新计算总分并写入状态。
// 只有全部分区完成才标记为 concluded；任何失败都不改变状态。重复调用结果相同。
func (s *AuditSession) Save(ctx context.Context) (*SaveResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, util.ErrSessionNotOpen
	}
	if s.isSaving {
		s.mu.Unlock()
		return nil, util.ErrAlreadySaving
	}
	s.isSaving = true
	s.lastActivity = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSaving = false
		s.mu.Unlock()
	}()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// 等待写锁期间会话可能已被关闭
	if s.Closed() {
		return nil, util.ErrSessionNotOpen
	}

	if err := s.flushPending(ctx); err != nil {
		monitoring.AuditSaves.WithLabelValues("failed").Inc()
		return nil, err
	}

	s.mu.Lock()
	s.recomputeLocked()
	total := s.report.Total
	complete := s.report.Complete()
	status := model.AuditInProgress
	if complete {
		status = model.AuditConcluded
	}
	s.mu.Unlock()

	pctx, cancel := s.persistCtx(ctx)
	err := s.store.UpdateAuditTotals(pctx, s.auditID, total, status)
	cancel()
	if errors.Is(err, util.ErrAuditNotFound) {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		monitoring.AuditSaves.WithLabelValues("failed").Inc()
		return nil, util.ErrAuditNotFound
	}
	if err != nil {
		monitoring.AuditSaves.WithLabelValues("failed").Inc()
		monitoring.PersistenceFailures.WithLabelValues("update_audit_totals").Inc()
		logger.ForAudit(s.auditID).Error("Failed to save audit totals", zap.Error(err))
		return nil, &PersistenceError{Op: "update_audit_totals", Err: err}
	}

	s.mu.Lock()
	s.audit.Total = total
	s.audit.Status = status
	s.mu.Unlock()

	monitoring.AuditSaves.WithLabelValues(string(status)).Inc()
	logger.ForAudit(s.auditID).Info("Audit saved",
		zap.String("total", total.String()),
		zap.String("status", string(status)))
	return &SaveResult{Total: total, Status: status, Complete: complete}, nil
}

func (s *AuditSession) flushPending(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for qid := range s.pending {
		ids = append(ids, qid)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	for _, qid := range ids {
		s.mu.Lock()
		a := s.answers[qid]
		note, ref := s.notes[qid], s.attachments[qid]
		s.mu.Unlock()

		if _, err := s.persistAnswer(ctx, qid, a.Response, a.Score, note, ref); err != nil {
			return err
		}
	}
	return nil
}

// SectionView 展示用的分区汇总（此处才做一位小数舍入）
type SectionView struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Subtotal      float64 `json:"subtotal"`
	AnsweredCount int     `json:"answeredCount"`
	QuestionCount int     `json:"questionCount"`
	Complete      bool    `json:"complete"`
	Percent       float64 `json:"percent"`
}

// SessionSnapshot 会话当前的进度快照
type SessionSnapshot struct {
	AuditID        string            `json:"auditId"`
	Status         model.AuditStatus `json:"status"`
	CurrentSection int               `json:"currentSection"`
	Sections       []SectionView     `json:"sections"`
	Total          float64           `json:"total"`
	Progress       float64           `json:"progress"`
	Complete       bool              `json:"complete"`
	Saving         bool              `json:"saving"`
	Pending        []string          `json:"pending,omitempty"`
}

// Progress 返回当前快照
func (s *AuditSession) Progress() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *AuditSession) snapshotLocked() SessionSnapshot {
	views := make([]SectionView, len(s.report.Sections))
	for i, sec := range s.report.Sections {
		views[i] = SectionView{
			ID:            sec.SectionID,
			Name:          sec.Name,
			Subtotal:      scoring.Round1(sec.Subtotal),
			AnsweredCount: sec.AnsweredCount,
			QuestionCount: sec.QuestionCount,
			Complete:      sec.Complete,
			Percent:       sec.Percent(),
		}
	}
	var pending []string
	for qid := range s.pending {
		pending = append(pending, qid)
	}
	sort.Strings(pending)

	return SessionSnapshot{
		AuditID:        s.auditID,
		Status:         s.audit.Status,
		CurrentSection: s.current,
		Sections:       views,
		Total:          scoring.Round1(s.report.Total),
		Progress:       s.report.Progress(),
		Complete:       s.report.Complete(),
		Saving:         s.isSaving,
		Pending:        pending,
	}
}

// Report 返回精确的汇总结果
func (s *AuditSession) Report() scoring.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// SectionComplete 分区是否已完成
func (s *AuditSession) SectionComplete(sectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[sectionID]
}

// AnswerView 单题的当前状态
type AnswerView struct {
	QuestionID    string           `json:"questionId"`
	Text          string           `json:"text"`
	Response      scoring.Response `json:"response,omitempty"`
	Score         *float64         `json:"score,omitempty"`
	Note          string           `json:"note,omitempty"`
	AttachmentRef string           `json:"attachmentRef,omitempty"`
	Pending       bool             `json:"pending,omitempty"`
}

// SectionDetail 当前分区的题目与回答
type SectionDetail struct {
	Index     int          `json:"index"`
	SectionID string       `json:"sectionId"`
	Name      string       `json:"name"`
	Questions []AnswerView `json:"questions"`
	Summary   *SectionView `json:"summary,omitempty"`
}

// CurrentSection 返回当前分区的题目及回答
func (s *AuditSession) CurrentSection() SectionDetail {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sections) == 0 {
		return SectionDetail{}
	}
	sec := s.sections[s.current]
	detail := SectionDetail{Index: s.current, SectionID: sec.ID, Name: sec.Name}
	for _, q := range s.questions {
		if q.SectionKey() != sec.ID {
			continue
		}
		v := AnswerView{
			QuestionID:    q.ID,
			Text:          q.Text,
			Note:          s.notes[q.ID],
			AttachmentRef: s.attachments[q.ID],
			Pending:       s.pending[q.ID],
		}
		if a, ok := s.answers[q.ID]; ok {
			score := scoring.Round1(a.Score)
			v.Response = a.Response
			v.Score = &score
		}
		detail.Questions = append(detail.Questions, v)
	}
	if sc, ok := s.report.Section(sec.ID); ok {
		detail.Summary = &SectionView{
			ID:            sc.SectionID,
			Name:          sc.Name,
			Subtotal:      scoring.Round1(sc.Subtotal),
			AnsweredCount: sc.AnsweredCount,
			QuestionCount: sc.QuestionCount,
			Complete:      sc.Complete,
			Percent:       sc.Percent(),
		}
	}
	return detail
}

// IdleSince 最近一次操作时间
func (s *AuditSession) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
