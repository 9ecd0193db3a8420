package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

// 文件上传相关常量
const (
	MimeImage       = "image/"
	MimePDF         = "application/pdf"
	MimeOctetStream = "application/octet-stream"
)

// 附件大小上限 10MB
const MaxAttachmentSize = 10 << 20

var (
	AllowedAttachmentTypes = []string{MimeImage, MimePDF}
)

// 对象存储中的目录前缀
const (
	AttachmentPrefix = "attachments"
	ReportPrefix     = "reports"
)

// 分页默认值
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)
