// Package nginx renders per-service location fragments and deploys them to a
// running Nginx, rolling back when the proxy rejects the result.
package nginx

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/utils"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// AssetDirs are the root-relative asset directories rewritten under the
// service prefix in proxied HTML, CSS and JavaScript.
var AssetDirs = []string{"assets", "static", "js", "css", "images"}

var funcs = template.FuncMap{"upper": strings.ToUpper}

var (
	httpTemplate  = mustLoad("http.conf.tmpl")
	httpsTemplate = mustLoad("https.conf.tmpl")
)

func mustLoad(name string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/location.tmpl", "templates/"+name))
}

type fragmentData struct {
	ID        string
	Name      string
	Protocol  string
	Authority string
	BasePath  string
	LogDir    string
	AssetDirs []string
}

// Renderer turns a service into its location fragment.
type Renderer struct {
	LogDir string
}

// Render selects the template by protocol and fills it in.
func (r Renderer) Render(svc *database.Service) ([]byte, error) {
	if svc.ID == "" || svc.Host == "" {
		return nil, fmt.Errorf("service needs an id and a host")
	}
	if strings.ContainsAny(svc.ID+svc.Host, " ;{}'\"\n\t") {
		return nil, fmt.Errorf("service %s: id or host contains characters not allowed in nginx config", svc.ID)
	}
	tmpl := httpTemplate
	protocol := "http"
	if strings.EqualFold(svc.Protocol, "https") {
		tmpl = httpsTemplate
		protocol = "https"
	}
	logDir := r.LogDir
	if logDir == "" {
		logDir = "/var/log/nginx"
	}
	data := fragmentData{
		ID:        svc.ID,
		Name:      sanitizeComment(svc.Name),
		Protocol:  protocol,
		Authority: utils.FormatAuthority(svc.Host, svc.Port),
		BasePath:  upstreamPrefix(svc.BasePath),
		LogDir:    logDir,
		AssetDirs: AssetDirs,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render service %s: %w", svc.ID, err)
	}
	return buf.Bytes(), nil
}

// upstreamPrefix turns a base path into the rewrite target prefix, always
// starting and ending with a slash.
func upstreamPrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.ContainsAny(p, " ;{}'\"$\n\t") {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func sanitizeComment(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

// FragmentName is the file name of a service's fragment.
func FragmentName(id string) string {
	return "service_" + id + ".conf"
}
