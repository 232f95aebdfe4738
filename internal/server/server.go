package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/qcw_analyzer_go/internal/analysis"
	"github.com/user/qcw_analyzer_go/internal/config"
	"github.com/user/qcw_analyzer_go/internal/notify"
	"github.com/user/qcw_analyzer_go/internal/parser"
	"github.com/user/qcw_analyzer_go/internal/report"
	"github.com/user/qcw_analyzer_go/internal/storage"
)

const maxUploadBytes = 64 << 20

// Server wires the QCW engine to the HTTP surface: upload, worklist
// mapping, results, and report downloads.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	notifier *notify.Telegram
	logger   *slog.Logger
}

func New(cfg *config.Config, store storage.Store, notifier *notify.Telegram, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, store: store, notifier: notifier, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /sessions/{id}/mapping", s.handleMapping)
	mux.HandleFunc("GET /sessions/{id}/report", s.handleReport)
	mux.HandleFunc("GET /sessions/{id}/report.pdf", s.handleReportPDF)
	mux.HandleFunc("GET /sessions/{id}/dates/{date}/report.pdf", s.handleDateReportPDF)
	return mux
}

// Start runs the HTTP server until ctx is cancelled, then drains in-flight
// requests. The returned channel closes once shutdown has completed.
func (s *Server) Start(ctx context.Context) <-chan struct{} {
	httpServer := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown", "err", err)
		}
	}()
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "err", err)
		}
	}()
	return done
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a multipart QCW upload plus optional institute name
// and logo, extracts the worklist listing, and opens a session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.cleanupExpired(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	doc, err := parser.Parse(content)
	if err != nil {
		s.logger.Warn("upload rejected", "file", header.Filename, "err", err)
		writeError(w, http.StatusUnprocessableEntity, "file is not well-formed QCW XML")
		return
	}
	for _, warn := range doc.Warnings {
		s.logger.Debug("parse warning", "file", header.Filename, "warning", warn)
	}

	if inst := strings.TrimSpace(r.FormValue("institute")); inst != "" {
		if err := s.saveAsset("name.txt", []byte(inst)); err != nil {
			s.logger.Warn("could not save institute name", "err", err)
		}
	}
	if logo, _, err := r.FormFile("logo"); err == nil {
		logoBytes, readErr := io.ReadAll(logo)
		logo.Close()
		if readErr == nil && len(logoBytes) > 0 {
			if err := s.saveAsset("logo.png", logoBytes); err != nil {
				s.logger.Warn("could not save logo", "err", err)
			}
		}
	}

	id := uuid.NewString()
	sourcePath := filepath.Join(s.cfg.UploadDir, id+"_"+filepath.Base(header.Filename))
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if err := os.WriteFile(sourcePath, content, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	sess := &storage.Session{
		ID:         id,
		CreatedAt:  time.Now(),
		SourcePath: sourcePath,
		Worklists:  doc.Worklists,
	}
	if err := s.store.SaveSession(r.Context(), sess); err != nil {
		s.logger.Error("save session", "err", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.logger.Info("upload accepted", "session", id, "file", header.Filename,
		"worklists", len(doc.Worklists), "records", len(doc.Records))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"worklists":  doc.Worklists,
	})
}

type mappingRequest struct {
	Mapping map[string]string `json:"mapping"`
}

// handleMapping applies the machine name mapping, runs the engine, persists
// the aggregated report, and triggers the notification bundle.
func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var req mappingRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid mapping body")
			return
		}
	}

	content, err := os.ReadFile(sess.SourcePath)
	if err != nil {
		writeError(w, http.StatusGone, "uploaded file no longer available")
		return
	}
	doc, err := parser.Parse(content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "file is not well-formed QCW XML")
		return
	}

	engine, mapping := s.buildEngine(sess, req.Mapping)
	rep := engine.Aggregate(doc)

	sess.Mapping = mapping
	sess.Report = rep
	if err := s.store.SaveSession(r.Context(), sess); err != nil {
		s.logger.Error("save session", "err", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	go s.notifyReport(sess, rep, remoteIP(r))

	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if sess.Report == nil {
		writeError(w, http.StatusConflict, "mapping not applied yet")
		return
	}
	writeJSON(w, http.StatusOK, sess.Report)
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if sess.Report == nil {
		writeError(w, http.StatusConflict, "mapping not applied yet")
		return
	}
	path := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("QA_Report_%s_ALL_DATES.pdf", sess.ID))
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}
	if err := report.BuildFullReport(path, sess.Report, s.branding(), s.cfg.DeviationThreshold); err != nil {
		s.logger.Error("build report", "session", sess.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}
	servePDF(w, r, path)
}

func (s *Server) handleDateReportPDF(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if sess.Report == nil {
		writeError(w, http.StatusConflict, "mapping not applied yet")
		return
	}
	date := r.PathValue("date")
	var dg *analysis.DateGroup
	for i := range sess.Report.Dates {
		if sess.Report.Dates[i].Date == date {
			dg = &sess.Report.Dates[i]
			break
		}
	}
	if dg == nil {
		writeError(w, http.StatusNotFound, "no data for date "+date)
		return
	}
	path := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("QA_Report_%s_%s.pdf", sess.ID, date))
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}
	if err := report.BuildDateReport(path, *dg, s.branding(), s.cfg.DeviationThreshold); err != nil {
		s.logger.Error("build report", "session", sess.ID, "date", date, "err", err)
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}
	servePDF(w, r, path)
}

// buildEngine constructs the analysis engine per the configured name
// strategy. In mapping mode the caller's overrides are layered over the
// names declared in the file; ids covered by neither fall through to the
// engine's own placeholder.
func (s *Server) buildEngine(sess *storage.Session, overrides map[string]string) (*analysis.Engine, map[string]string) {
	opts := []analysis.Option{analysis.WithDeviationThreshold(s.cfg.DeviationThreshold)}
	if s.cfg.NameStrategy == config.StrategyHeuristic {
		opts = append(opts, analysis.WithHeuristicNames())
		return analysis.NewEngine(opts...), nil
	}
	mapping := make(map[string]string, len(sess.Worklists))
	for _, wl := range sess.Worklists {
		if name, ok := overrides[wl.ID]; ok && strings.TrimSpace(name) != "" {
			mapping[wl.ID] = strings.TrimSpace(name)
		} else {
			mapping[wl.ID] = wl.Name
		}
	}
	opts = append(opts, analysis.WithMapping(mapping))
	return analysis.NewEngine(opts...), mapping
}

// notifyReport renders the per-date PDFs, bundles them with the source QCW
// file, and pushes the package to Telegram. Failures are logged only; the
// upload flow never depends on this.
func (s *Server) notifyReport(sess *storage.Session, rep *analysis.Report, remoteAddr string) {
	if !s.notifier.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		s.logger.Warn("notification skipped", "err", err)
		return
	}
	paths := []string{sess.SourcePath}
	for _, dg := range rep.Dates {
		pdfPath := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("QA_Report_%s_%s.pdf", sess.ID, dg.Date))
		if err := report.BuildDateReport(pdfPath, dg, s.branding(), s.cfg.DeviationThreshold); err != nil {
			s.logger.Warn("notification report skipped", "date", dg.Date, "err", err)
			continue
		}
		paths = append(paths, pdfPath)
	}

	bundleName := fmt.Sprintf("QA_Reports_%s.zip", time.Now().Format("20060102_150405"))
	bundlePath := filepath.Join(s.cfg.OutputDir, bundleName)
	bundle, err := os.Create(bundlePath)
	if err != nil {
		s.logger.Warn("notification bundle failed", "err", err)
		return
	}
	if err := notify.WriteBundle(bundle, paths); err != nil {
		bundle.Close()
		s.logger.Warn("notification bundle failed", "err", err)
		return
	}
	bundle.Close()

	msg := notify.SummaryMessage(s.instituteName(), remoteAddr, bundleName, len(rep.Dates))
	if err := s.notifier.SendMessage(ctx, msg); err != nil {
		s.logger.Warn("telegram message failed", "err", err)
	}
	f, err := os.Open(bundlePath)
	if err != nil {
		s.logger.Warn("notification bundle failed", "err", err)
		return
	}
	defer f.Close()
	if err := s.notifier.SendDocument(ctx, bundleName, f); err != nil {
		s.logger.Warn("telegram document failed", "err", err)
		return
	}
	s.logger.Info("notification sent", "session", sess.ID, "bundle", bundleName)
}

func (s *Server) cleanupExpired(ctx context.Context) {
	paths, err := s.store.Cleanup(ctx, time.Duration(s.cfg.RetentionHours)*time.Hour)
	if err != nil {
		s.logger.Warn("session cleanup failed", "err", err)
		return
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("could not remove expired upload", "path", p, "err", err)
		}
	}
	if len(paths) > 0 {
		s.logger.Info("expired sessions removed", "count", len(paths))
	}
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*storage.Session, bool) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err == storage.ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	if err != nil {
		s.logger.Error("load session", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return nil, false
	}
	return sess, true
}

func (s *Server) branding() report.Branding {
	return report.Branding{
		InstituteName: s.instituteName(),
		LogoPath:      filepath.Join(s.cfg.AssetDir, "logo.png"),
	}
}

// instituteName prefers the uploaded name.txt asset over the configured
// default.
func (s *Server) instituteName() string {
	b, err := os.ReadFile(filepath.Join(s.cfg.AssetDir, "name.txt"))
	if err == nil {
		if name := strings.TrimSpace(string(b)); name != "" {
			return name
		}
	}
	return s.cfg.InstituteName
}

func (s *Server) saveAsset(name string, content []byte) error {
	if err := os.MkdirAll(s.cfg.AssetDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.cfg.AssetDir, name), content, 0o644)
}

func servePDF(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	http.ServeFile(w, r, path)
}

func remoteIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
