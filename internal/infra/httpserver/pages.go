package httpserver

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/bryanwahyu/datasheet-lens/internal/application/analysis"
	"github.com/bryanwahyu/datasheet-lens/internal/application/settings"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
	"github.com/bryanwahyu/datasheet-lens/internal/middleware"
)

//go:embed templates/*.html templates/partials/*.html
var templateFS embed.FS

var pageNames = []string{"list.html", "detail.html", "settings.html", "error.html"}

type pages struct {
	byName map[string]*template.Template
}

var funcs = template.FuncMap{
	"markdown": renderMarkdown,
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
}

func loadPages() (*pages, error) {
	p := &pages{byName: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/partials/*.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		p.byName[name] = t
	}
	return p, nil
}

// renderMarkdown converts a model summary to HTML. Raw HTML in the source
// is dropped by goldmark's default renderer.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

func (r *Router) render(w http.ResponseWriter, code int, name string, data any) error {
	var buf bytes.Buffer
	if err := r.pages.byName[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("rendering %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, err := buf.WriteTo(w)
	return err
}

// page is wrap for HTML handlers: errors become an error page.
func (r *Router) page(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				r.logger.Error("page failed", "path", req.URL.Path, "error", err)
			}
			data := map[string]any{"Code": code, "Message": err.Error(), "Live": "", "RecordID": ""}
			if rerr := r.render(w, code, "error.html", data); rerr != nil {
				http.Error(w, err.Error(), code)
			}
		}
	}
}

// view carries what the layout needs on every page. Live selects which
// events reload the page.
type view struct {
	Live     string
	RecordID string
}

type listData struct {
	view
	Records []*records.AnalysisRecord
	Status  status
}

// GET /
func (r *Router) handleListPage(w http.ResponseWriter, req *http.Request) error {
	list, err := r.analyses.Snapshot(req.Context())
	if err != nil {
		return err
	}
	return r.render(w, http.StatusOK, "list.html", listData{view: view{Live: "list"}, Records: list, Status: r.status()})
}

type detailData struct {
	view
	Record *records.AnalysisRecord
	Notice string
}

// GET /records/{id}
func (r *Router) handleDetailPage(w http.ResponseWriter, req *http.Request) error {
	id, err := recordID(req)
	if err != nil {
		return err
	}
	rec, err := r.analyses.Record(req.Context(), "", id)
	if err != nil {
		return err
	}
	data := detailData{view: view{Live: "record", RecordID: rec.ID}, Record: rec}
	if req.URL.Query().Get("queue") == "full" {
		data.Notice = "The analysis queue is full. The record stays pending and will be picked up after a restart or another re-analyze."
	}
	return r.render(w, http.StatusOK, "detail.html", data)
}

// POST /records/{id}/requeue
func (r *Router) handleRequeueForm(w http.ResponseWriter, req *http.Request) error {
	id, err := recordID(req)
	if err != nil {
		return err
	}
	target := "/records/" + id
	if _, err := r.analyses.Requeue(req.Context(), id); err != nil {
		if !errors.Is(err, analysis.ErrQueueFull) {
			return err
		}
		target += "?queue=full"
	}
	http.Redirect(w, req, target, http.StatusSeeOther)
	return nil
}

// POST /records/{id}/delete
func (r *Router) handleDeleteForm(w http.ResponseWriter, req *http.Request) error {
	id, err := recordID(req)
	if err != nil {
		return err
	}
	if err := r.analyses.Delete(req.Context(), id); err != nil {
		return err
	}
	http.Redirect(w, req, "/", http.StatusSeeOther)
	return nil
}

type settingsData struct {
	view
	Settings settings.View
	Status   status
	Saved    bool
	Error    string
}

// GET /settings
func (r *Router) handleSettingsPage(w http.ResponseWriter, req *http.Request) error {
	return r.render(w, http.StatusOK, "settings.html", settingsData{
		Settings: r.settings.View(),
		Status:   r.status(),
		Saved:    req.URL.Query().Get("saved") == "1",
	})
}

// POST /settings
// Form fields: api_key (left blank to keep the current key) and folder.
func (r *Router) handleSettingsForm(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, 64<<10)
	if err := req.ParseForm(); err != nil {
		return &badRequest{msg: "invalid form: " + err.Error()}
	}

	err := r.applySettingsForm(req)
	var ve *settings.ValidationError
	if errors.As(err, &ve) {
		return r.render(w, http.StatusBadRequest, "settings.html", settingsData{
			Settings: r.settings.View(),
			Status:   r.status(),
			Error:    ve.Error(),
		})
	}
	if err != nil {
		return err
	}
	http.Redirect(w, req, "/settings?saved=1", http.StatusSeeOther)
	return nil
}

func (r *Router) applySettingsForm(req *http.Request) error {
	if key := strings.TrimSpace(req.PostFormValue("api_key")); key != "" {
		if err := r.settings.SetAPIKey(req.Context(), key); err != nil {
			return err
		}
	}
	if _, ok := req.PostForm["folder"]; !ok {
		return nil
	}
	folder := middleware.SanitizeString(req.PostFormValue("folder"))
	if err := middleware.ValidateFolderPath(folder); err != nil {
		return &settings.ValidationError{Field: "watch folder", Reason: err.Error()}
	}
	if folder == r.settings.View().WatchFolder {
		return nil
	}
	return r.settings.SetWatchFolder(req.Context(), folder)
}
