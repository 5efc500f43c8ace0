package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey        = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	ContentTypeJSON     = "application/json"
	ContentTypeForm     = "multipart/form-data"
	AuthSchemeBearer    = "Bearer"
)

// API paths
const (
	PathHealth     = "/health"
	PathSchedule   = "/agendar"
	PathPosts      = "/posts"
	PathAdminToken = "/admin/token"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 4
	DefaultPageLimit     = 10
	MaxPageLimit         = 100
	SQLiteBusyTimeoutMS  = 5000
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageJPG  = "image/jpg"
	MimeVideoMP4  = "video/mp4"
)

// Subdirectory names. SentDirName and ErrorsDirName are part of the
// on-disk contract with operators and must not be translated.
const (
	UploadsDirName = "uploads"
	SentDirName    = "Enviados"
	ErrorsDirName  = "Erros"
)

// MediaExtensions lists the lower-cased file extensions accepted by the
// watcher and the multipart intake.
var MediaExtensions = []string{".jpg", ".png", ".mp4"}
