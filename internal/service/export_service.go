package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"store_audit_backend/internal/config"
	"store_audit_backend/internal/model"
	"store_audit_backend/internal/scoring"
	"store_audit_backend/internal/util"
	"store_audit_backend/pkg/logger"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"go.uber.org/zap"
)

// PDFRenderer 把 HTML 打印为 PDF
type PDFRenderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// Notifier 邮件发送（shoutrrr router 满足此接口）
type Notifier interface {
	Send(message string, params *stypes.Params) []error
}

// ChromiumRenderer 通过 headless Chromium 生成 PDF
type ChromiumRenderer struct {
	ExecPath string
	Timeout  time.Duration
}

func (r ChromiumRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	var pdf []byte
	err := chromedp.Run(runCtx,
		chromedp.Navigate("data:text/html,"+url.PathEscape(html)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err == nil {
				pdf = buf
			}
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	return pdf, nil
}

// ExportService 导出审核报告（PDF）并通过邮件发送给审核员和管理员
type ExportService struct {
	Audits   *AuditService
	Storage  *StorageService
	Renderer PDFRenderer
	Notifier Notifier
	Cfg      *config.ExportConfig
}

func NewExportService(audits *AuditService, storage *StorageService, cfg *config.ExportConfig) *ExportService {
	s := &ExportService{
		Audits:   audits,
		Storage:  storage,
		Renderer: ChromiumRenderer{ExecPath: cfg.ChromiumPath, Timeout: cfg.PDFTimeout},
		Cfg:      cfg,
	}
	if len(cfg.NotifyURLs) > 0 {
		sender, err := shoutrrr.CreateSender(cfg.NotifyURLs...)
		if err != nil {
			// 不输出 URL，其中可能包含 SMTP 密码
			logger.Log.Error("Failed to create mail sender, email export disabled", zap.Error(err))
		} else {
			if cfg.SendTimeout > 0 {
				sender.Timeout = cfg.SendTimeout
			}
			sender.SetLogger(log.New(io.Discard, "", 0))
			s.Notifier = sender
		}
	}
	return s
}

// Snapshot 导出时刻的一致快照
func (s *ExportService) Snapshot(ctx context.Context, auditID string) (*AuditReport, error) {
	return s.Audits.Report(ctx, auditID)
}

// ExportResult 导出结果
type ExportResult struct {
	Key        string   `json:"key"`
	URL        string   `json:"url"`
	Emailed    bool     `json:"emailed"`
	Recipients []string `json:"recipients,omitempty"`
}

// Export 生成 PDF 并保存，sendEmail 为 true 时发送邮件
func (s *ExportService) Export(ctx context.Context, auditID string, sendEmail bool) (*ExportResult, error) {
	report, err := s.Snapshot(ctx, auditID)
	if err != nil {
		return nil, err
	}

	pdf, err := s.RenderPDF(ctx, report)
	if err != nil {
		return nil, err
	}

	key, err := s.Storage.SaveReport(ctx, auditID, pdf)
	if err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	res := &ExportResult{Key: key, URL: s.Storage.URL(key)}
	logger.Log.Info("Audit report exported", zap.String("audit_id", auditID), zap.String("key", key), zap.Int("bytes", len(pdf)))

	if sendEmail {
		recipients, err := s.Email(report, res.URL)
		if err != nil {
			return res, err
		}
		res.Emailed = true
		res.Recipients = recipients
	}
	return res, nil
}

// RenderPDF 渲染报告 HTML 并打印为 PDF
func (s *ExportService) RenderPDF(ctx context.Context, report *AuditReport) ([]byte, error) {
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	if s.Renderer == nil {
		return nil, util.ErrExportUnavailable
	}
	return s.Renderer.Render(ctx, html)
}

// Recipients 审核员与管理员地址，去重
func (s *ExportService) Recipients(report *AuditReport) []string {
	var out []string
	seen := map[string]bool{}
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		if addr == "" || seen[strings.ToLower(addr)] {
			return
		}
		seen[strings.ToLower(addr)] = true
		out = append(out, addr)
	}
	if report.Audit != nil && report.Audit.Auditor != nil {
		add(report.Audit.Auditor.Email)
	}
	add(s.Cfg.AdminEmail)
	return out
}

// Email 发送带报告链接的邮件
func (s *ExportService) Email(report *AuditReport, link string) ([]string, error) {
	if s.Notifier == nil {
		return nil, util.ErrExportUnavailable
	}
	recipients := s.Recipients(report)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no email recipients for audit %s", report.Audit.ID)
	}

	if s.Cfg.BaseURL != "" && strings.HasPrefix(link, "/") {
		link = strings.TrimRight(s.Cfg.BaseURL, "/") + link
	}

	params := stypes.Params{}
	params.SetTitle(reportTitle(report))
	params["toaddresses"] = strings.Join(recipients, ",")

	body := emailBody(report, link)
	for _, err := range s.Notifier.Send(body, &params) {
		if err != nil {
			logger.Log.Warn("Failed to send audit report email", zap.String("audit_id", report.Audit.ID), zap.Error(err))
			return nil, err
		}
	}
	logger.Log.Info("Audit report emailed", zap.String("audit_id", report.Audit.ID), zap.Strings("to", recipients))
	return recipients, nil
}

func storeName(a *model.Audit) string {
	if a != nil && a.Store != nil {
		return a.Store.Name
	}
	return ""
}

func reportTitle(r *AuditReport) string {
	return fmt.Sprintf("Auditoria %s - %s", storeName(r.Audit), r.Audit.CreatedAt.Format(util.DateFormat))
}

func emailBody(r *AuditReport, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Loja: %s\n", storeName(r.Audit))
	fmt.Fprintf(&b, "Status: %s\n", r.Audit.Status)
	fmt.Fprintf(&b, "Pontuação total: %.1f\n", r.Total)
	fmt.Fprintf(&b, "Progresso: %.0f%%\n", r.Progress)
	fmt.Fprintf(&b, "Itens críticos: %d\n\n", len(r.Critical))
	fmt.Fprintf(&b, "Relatório: %s\n", link)
	return b.String()
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"score": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"pct":   func(v float64) string { return fmt.Sprintf("%.0f%%", v) },
	"date": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format(util.TimeFormat)
	},
	"label": func(r scoring.Response) string {
		switch r {
		case scoring.Yes:
			return "Sim"
		case scoring.No:
			return "Não"
		case scoring.Partial:
			return "Parcial"
		case scoring.NotApplicable:
			return "N/A"
		}
		return string(r)
	},
}).Parse(reportHTML))

// RenderReportHTML 报告的 HTML，PDF 由它打印
func RenderReportHTML(r *AuditReport) (string, error) {
	var buf bytes.Buffer
	err := reportTemplate.Execute(&buf, struct {
		R     *AuditReport
		Store string
		Now   string
	}{
		R:     r,
		Store: storeName(r.Audit),
		Now:   r.GeneratedAt.Format(util.TimeFormat),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!doctype html>
<html lang="pt-BR">
<head>
  <meta charset="utf-8" />
  <style>
    @page { size: A4; margin: 16mm; }
    body { font-family: 'Helvetica Neue', Arial, sans-serif; color: #0f172a; font-size: 12px; }
    h1 { margin: 0 0 8px; font-size: 20px; }
    .meta { display: flex; justify-content: space-between; margin-bottom: 16px; }
    .label { color: #475569; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; page-break-inside: auto; }
    tr { page-break-inside: avoid; }
    th, td { padding: 6px; border-bottom: 1px solid #e2e8f0; text-align: left; }
    th { background: #f8fafc; }
    .num { text-align: right; }
    .total { font-weight: 700; font-size: 14px; }
    .critical td { color: #b91c1c; }
  </style>
</head>
<body>
  <div class="meta">
    <div>
      <h1>Relatório de Auditoria</h1>
      <div><span class="label">Loja:</span> {{.Store}}</div>
      <div><span class="label">Supervisor:</span> {{.R.Audit.SupervisorName}}</div>
      <div><span class="label">Gerente:</span> {{.R.Audit.ManagerName}}</div>
    </div>
    <div style="text-align:right">
      <div><span class="label">Status:</span> {{.R.Audit.Status}}</div>
      <div><span class="label">Concluída em:</span> {{date .R.Audit.ConcludedAt}}</div>
      <div><span class="label">Gerado em:</span> {{.Now}}</div>
    </div>
  </div>

  <table>
    <thead>
      <tr><th>Seção</th><th class="num">Respondidas</th><th class="num">Progresso</th><th class="num">Subtotal</th></tr>
    </thead>
    <tbody>
    {{range .R.Sections}}
      <tr>
        <td>{{.Name}}</td>
        <td class="num">{{.AnsweredCount}}/{{.QuestionCount}}</td>
        <td class="num">{{pct .Percent}}</td>
        <td class="num">{{score .Subtotal}}</td>
      </tr>
    {{end}}
      <tr class="total"><td>Total</td><td></td><td class="num">{{pct .R.Progress}}</td><td class="num">{{score .R.Total}}</td></tr>
    </tbody>
  </table>

  {{if .R.Critical}}
  <h2>Itens de atenção</h2>
  <table>
    <thead>
      <tr><th>Seção</th><th>Pergunta</th><th>Resposta</th><th class="num">Pontos</th><th>Observação</th></tr>
    </thead>
    <tbody>
    {{range .R.Critical}}
      <tr class="critical">
        <td>{{.SectionName}}</td>
        <td>{{.Question}}</td>
        <td>{{label .Response}}</td>
        <td class="num">{{score .Score}}</td>
        <td>{{.Note}}</td>
      </tr>
    {{end}}
    </tbody>
  </table>
  {{end}}
</body>
</html>
`
