package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"store_audit_backend/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultAllowedHeaders = "Content-Type, Content-Length, Authorization, Accept, Origin, Cache-Control, X-Requested-With"
	allowedMethods        = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	// 导出 PDF 时前端需要读取文件名
	exposedHeaders = "Content-Disposition, Content-Length"
)

// CORS 仅允许白名单中的 Origin，支持 Credentials；"*" 表示放行任意 Origin
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	originSet := make(map[string]bool, len(cfg.AllowedOrigins))
	anyOrigin := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		originSet[strings.TrimRight(o, "/")] = true
	}
	allowHeaders := defaultAllowedHeaders
	if len(cfg.AllowedHeaders) > 0 {
		allowHeaders = strings.Join(cfg.AllowedHeaders, ", ")
	}
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(int(cfg.MaxAge.Seconds()))
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		h := c.Writer.Header()

		if origin != "" && (anyOrigin || originSet[origin]) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", allowedMethods)
		h.Set("Access-Control-Expose-Headers", exposedHeaders)
		if maxAge != "" {
			h.Set("Access-Control-Max-Age", maxAge)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Headers 安全响应头，取值来自 security 配置
func Headers(cfg config.SecurityConfig) gin.HandlerFunc {
	frame := cfg.FrameOptions
	if frame == "" {
		frame = "DENY"
	}
	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = fmt.Sprintf("max-age=%d", int(cfg.HSTSMaxAge.Seconds()))
		if cfg.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", frame)
		c.Header("Referrer-Policy", "no-referrer")
		if cfg.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", cfg.ContentSecurityPolicy)
		}
		// 仅 HTTPS 或 TLS 终止在反向代理时下发 HSTS
		if hsts != "" && (c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https") {
			c.Header("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端 IP 限流。过期条目由后台清理协程回收，ctx 结束时协程退出。
type RateLimiter struct {
	limit   rate.Limit
	retry   string
	burst   int
	expiry  time.Duration
	exempt  map[string]bool
	mu      sync.Mutex
	clients map[string]*visitor
	done    chan struct{}
}

// NewRateLimiter window 内最多 maxRequests 个请求；exemptPaths 按 gin 路由模板匹配（如 /api/health）
func NewRateLimiter(ctx context.Context, maxRequests int, window time.Duration, exemptPaths ...string) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	interval := window / time.Duration(maxRequests)
	retry := int((interval + time.Second - 1) / time.Second)
	if retry < 1 {
		retry = 1
	}
	expiry := window * 3
	if expiry < time.Minute {
		expiry = time.Minute
	}
	rl := &RateLimiter{
		limit:   rate.Every(interval),
		retry:   strconv.Itoa(retry),
		burst:   maxRequests,
		expiry:  expiry,
		exempt:  make(map[string]bool, len(exemptPaths)),
		clients: make(map[string]*visitor),
		done:    make(chan struct{}),
	}
	for _, p := range exemptPaths {
		rl.exempt[p] = true
	}
	go rl.cleanup(ctx, time.Minute)
	return rl
}

func (rl *RateLimiter) cleanup(ctx context.Context, every time.Duration) {
	defer close(rl.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.clients {
		if now.Sub(v.lastSeen) > rl.expiry {
			delete(rl.clients, ip)
		}
	}
}

// Done 清理协程退出后关闭
func (rl *RateLimiter) Done() <-chan struct{} {
	return rl.done
}

// Clients 当前跟踪的客户端数
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.clients[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()
	return v.limiter.Allow()
}

// Middleware 超限时返回 429，响应体与统一响应格式一致
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.exempt[c.FullPath()] {
			c.Next()
			return
		}
		if !rl.allow(c.ClientIP()) {
			c.Header("Retry-After", rl.retry)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
