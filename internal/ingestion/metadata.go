package ingestion

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Source kinds recorded on every chunk.
const (
	KindPDF  = "pdf"
	KindText = "text"
	KindWeb  = "web"
)

// SourceInfo is the best-effort description of where a chunk came from.
type SourceInfo struct {
	// Kind is one of KindPDF, KindText or KindWeb.
	Kind string
	// Title is a readable name derived from the file name or URL path.
	Title string
	// Site is the host for web sources, empty otherwise.
	Site string
}

// siteTitles names well-known hosts whose root page would otherwise get an
// empty title.
var siteTitles = map[string]string{
	"zudu.ai":     "Zudu",
	"www.zudu.ai": "Zudu",
}

// IsURL reports whether ref is an http(s) URL.
func IsURL(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// InferSource describes ref, a file path or http(s) URL.
func InferSource(ref string) SourceInfo {
	if IsURL(ref) {
		u, _ := url.Parse(ref)
		host := strings.ToLower(u.Hostname())
		info := SourceInfo{Kind: KindWeb, Site: host}
		if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
			info.Kind = KindPDF
		}
		info.Title = titleFrom(path.Base(strings.TrimSuffix(u.Path, "/")))
		if info.Title == "" {
			if t, ok := siteTitles[host]; ok {
				info.Title = t
			} else {
				info.Title = host
			}
		}
		return info
	}

	info := SourceInfo{Kind: KindText}
	if strings.EqualFold(filepath.Ext(ref), ".pdf") {
		info.Kind = KindPDF
	}
	info.Title = titleFrom(filepath.Base(ref))
	return info
}

// titleFrom turns "zudu-company_overview.pdf" into "zudu company overview".
func titleFrom(base string) string {
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
