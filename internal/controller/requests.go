package controller

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/record"
)

var (
	errDotDot         = errors.New("target directory must not contain ..")
	errBadScheme      = errors.New("url scheme must be http, https, or ftp")
	errBadContentType = errors.New("content type must match type/subtype")
)

// AgentResolver picks the TransferAgent implementation for a request's URL
// scheme (http/https vs ftp). The controller never constructs an agent
// itself; it is handed one per session through this interface, which
// cmd/transferd wires to httpagent.Agent and ftpagent.Agent.
type AgentResolver interface {
	AgentFor(sourceURL string) (agent.TransferAgent, error)
}

// Config holds the controller's static, startup-only settings.
type Config struct {
	// TempPrefix names the subdirectory bytes land in while a transfer is
	// running, joined under TargetDir the way record.Record.TempPath does.
	TempPrefix string
}

// DownloadRequest mirrors spec.md §6's download client request fields.
type DownloadRequest struct {
	Owner                  string
	Target                 string // URL; scheme must be http, https, or ftp
	Mime                   string
	AuthToken              string
	CookieHeader           string
	DeviceID               string
	TargetDir              string
	TargetFilename         string
	KeepFilenameOnRedirect bool
	CanHandlePause         bool
	AutoResume             bool
	AppendTargetFile       bool
	RangeLow               int64
	RangeHigh              int64
	HasRange               bool
	Interface              record.InterfaceName
	Allow1x                bool
}

// UploadRequest mirrors spec.md §6's upload client request fields.
type UploadRequest struct {
	Owner          string
	FileName       string // local file path whose bytes are the upload body
	URL            string
	FileLabel      string // multipart field name FileName is attached under
	ContentType    string
	PostParameters []record.UploadPart
	CookieHeader   string
	CustomHeaders  []string
	Interface      record.InterfaceName
	Allow1x        bool
	TargetDir      string // local source directory, for error reporting only
}

var contentTypePattern = regexp.MustCompile(`^[^\s]+/[^\s]+$`)

// validateDownloadRequest applies spec.md §6's security filters. Errors
// here always carry ErrFailedSecurityCheck.
func validateDownloadRequest(req DownloadRequest) error {
	if err := validateScheme(req.Target); err != nil {
		return err
	}
	if strings.Contains(req.TargetDir, "..") {
		return kindError(ErrFailedSecurityCheck, errDotDot)
	}
	return nil
}

func validateUploadRequest(req UploadRequest) error {
	if err := validateScheme(req.URL); err != nil {
		return err
	}
	if req.ContentType != "" && !contentTypePattern.MatchString(req.ContentType) {
		return kindError(ErrFailedSecurityCheck, errBadContentType)
	}
	return nil
}

func validateScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return kindError(ErrFailedSecurityCheck, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return nil
	default:
		return kindError(ErrFailedSecurityCheck, errBadScheme)
	}
}
