package crawler

import (
	"path"
	"regexp"
	"strings"
)

// skipExtensions are file types that never hold page text.
var skipExtensions = map[string]bool{
	// images
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true,
	".ico": true, ".bmp": true, ".tif": true, ".tiff": true, ".avif": true,
	// styles and scripts
	".css": true, ".js": true, ".mjs": true, ".map": true,
	// archives
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".rar": true, ".7z": true, ".bz2": true, ".xz": true,
	// media
	".mp3": true, ".mp4": true, ".wav": true, ".ogg": true, ".webm": true, ".avi": true,
	".mov": true, ".mkv": true, ".flac": true, ".m4a": true,
	// data
	".json": true, ".xml": true, ".csv": true, ".rss": true, ".atom": true, ".yaml": true, ".yml": true,
	// documents
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true, ".odt": true,
	// fonts
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	// binaries
	".exe": true, ".dmg": true, ".apk": true, ".iso": true, ".bin": true, ".msi": true,
}

var (
	authPathPattern = regexp.MustCompile(`(?i)(^|/)(login|log-in|signin|sign-in|signup|sign-up|register|registration|logout|log-out|signout|sign-out|password[-_]?reset|reset[-_]?password|forgot[-_]?password|wp-admin|wp-login\.php|admin|account|my-account)(/|\.|$)`)

	errorPathPattern = regexp.MustCompile(`(?i)(^|/)(404|500|error|errors|forbidden|unauthorized)(/|\.|$)`)

	blockedTitlePattern = regexp.MustCompile(`(?i)\b(log ?in|sign ?in|sign ?up|register( an?| your| for an?)? account|create (an? |your )?account|reset (your )?password|forgot (your )?password|page not found|internal server error|access denied)\b`)

	// errorCodeTitlePattern matches status codes only in error phrasing:
	// "Error 404", "HTTP 500", "404 - Not Found", or a bare code as the
	// whole title.
	errorCodeTitlePattern = regexp.MustCompile(`(?i)\b(error|http)\s*(40[0134]|50[0234])\b|\b(40[0134]|50[0234])\s*[-:|]?\s*(error|not found|forbidden|unauthorized|bad request|bad gateway|service unavailable|server error)\b|^\s*(40[0134]|50[0234])\s*$`)
)

// hasSkippedExtension reports whether the URL path names a non-document file.
func hasSkippedExtension(urlPath string) bool {
	return skipExtensions[strings.ToLower(path.Ext(urlPath))]
}

// isAuthOrErrorPath reports whether the path looks like an authentication,
// account or error page.
func isAuthOrErrorPath(urlPath string) bool {
	return authPathPattern.MatchString(urlPath) || errorPathPattern.MatchString(urlPath)
}

// isBlockedTitle reports whether a page title looks like a login or error page.
func isBlockedTitle(title string) bool {
	return blockedTitlePattern.MatchString(title) || errorCodeTitlePattern.MatchString(title)
}
