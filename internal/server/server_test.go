package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/qcw_analyzer_go/internal/analysis"
	"github.com/user/qcw_analyzer_go/internal/config"
	"github.com/user/qcw_analyzer_go/internal/notify"
	"github.com/user/qcw_analyzer_go/internal/parser"
	"github.com/user/qcw_analyzer_go/internal/storage"
)

const sampleQCW = `<?xml version="1.0" encoding="utf-8"?>
<QCW>
  <TrendData date="2024-05-01 08:15:00">
    <Worklist id="3">
      <Name>TB1 Morning</Name>
      <AdminData>
        <AdminValues>
          <Energy>6</Energy>
          <Modality>Photons</Modality>
          <Fieldsize>100x100</Fieldsize>
        </AdminValues>
        <AnalyzeParams>
          <CAX><Norm>100.0</Norm></CAX>
        </AnalyzeParams>
      </AdminData>
    </Worklist>
    <MeasData>
      <AnalyzeValues>
        <CAX><Value>100.5</Value></CAX>
      </AnalyzeValues>
    </MeasData>
  </TrendData>
  <TrendData date="2024-05-01 16:40:00">
    <Worklist id="3">
      <Name>TB1 Morning</Name>
      <AdminData>
        <AdminValues>
          <Energy>6</Energy>
          <Modality>Photons</Modality>
          <Fieldsize>100x100</Fieldsize>
        </AdminValues>
        <AnalyzeParams>
          <CAX><Norm>100.0</Norm></CAX>
        </AnalyzeParams>
      </AdminData>
    </Worklist>
    <MeasData>
      <AnalyzeValues>
        <CAX><Value>96.0</Value></CAX>
      </AnalyzeValues>
    </MeasData>
  </TrendData>
</QCW>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.OutputDir = filepath.Join(dir, "outputs")
	cfg.AssetDir = filepath.Join(dir, "assets")
	cfg.DBDSN = "file:" + filepath.Join(dir, "test.db")

	store, err := storage.NewSQLite(cfg.DBDSN)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := notify.NewTelegram("", "", logger) // disabled

	ts := httptest.NewServer(New(cfg, store, notifier, logger).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func uploadFile(t *testing.T, ts *httptest.Server, content string) (sessionID string, worklists []parser.WorklistInfo) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "daily.qcw")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form: %v", err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		SessionID string                `json:"session_id"`
		Worklists []parser.WorklistInfo `json:"worklists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return out.SessionID, out.Worklists
}

func TestUploadAndMappingFlow(t *testing.T) {
	ts := newTestServer(t)

	id, worklists := uploadFile(t, ts, sampleQCW)
	if id == "" {
		t.Fatal("no session id")
	}
	if len(worklists) != 1 || worklists[0].ID != "3" || worklists[0].Name != "TB1 Morning" {
		t.Fatalf("worklists: %+v", worklists)
	}

	mappingBody := strings.NewReader(`{"mapping":{"3":"LA1"}}`)
	resp, err := http.Post(ts.URL+"/sessions/"+id+"/mapping", "application/json", mappingBody)
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("mapping status %d: %s", resp.StatusCode, raw)
	}
	var rep analysis.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}

	if len(rep.Dates) != 1 || rep.Dates[0].Date != "2024-05-01" {
		t.Fatalf("dates: %+v", rep.Dates)
	}
	mg := rep.Dates[0].Machines
	if len(mg) != 1 || mg[0].Machine != "LA1" {
		t.Fatalf("machines: %+v", mg)
	}
	fg := mg[0].Fields
	if len(fg) != 1 || fg[0].FieldSize != "10 cm X 10 cm" {
		t.Fatalf("fields: %+v", fg)
	}
	if len(fg[0].Energies) != 2 {
		t.Fatalf("energy blocks: %+v", fg[0].Energies)
	}
	second := fg[0].Energies[1]
	if len(second.FailedTests) != 1 || second.FailedTests[0].Deviation != "-4.00" {
		t.Fatalf("failed tests: %+v", second.FailedTests)
	}
}

func TestReportEndpoints(t *testing.T) {
	ts := newTestServer(t)
	id, _ := uploadFile(t, ts, sampleQCW)

	// report before mapping applied
	resp, err := http.Get(ts.URL + "/sessions/" + id + "/report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before mapping, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/sessions/"+id+"/mapping", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/sessions/" + id + "/report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status %d", resp.StatusCode)
	}
	var rep analysis.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	// no mapping override supplied: declared worklist name is used
	if rep.Dates[0].Machines[0].Machine != "TB1 Morning" {
		t.Fatalf("machine: %s", rep.Dates[0].Machines[0].Machine)
	}

	pdfResp, err := http.Get(ts.URL + "/sessions/" + id + "/report.pdf")
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	defer pdfResp.Body.Close()
	if pdfResp.StatusCode != http.StatusOK {
		t.Fatalf("pdf status %d", pdfResp.StatusCode)
	}
	head := make([]byte, 4)
	if _, err := io.ReadFull(pdfResp.Body, head); err != nil || string(head) != "%PDF" {
		t.Fatalf("pdf magic: %q (%v)", head, err)
	}
}

func TestUploadRejectsMalformedXML(t *testing.T) {
	ts := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "broken.qcw")
	fw.Write([]byte("<QCW><TrendData"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/sessions/nope/report")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStartShutsDownOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.OutputDir = filepath.Join(dir, "outputs")
	cfg.AssetDir = filepath.Join(dir, "assets")
	cfg.DBDSN = "file:" + filepath.Join(dir, "test.db")

	store, err := storage.NewSQLite(cfg.DBDSN)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, store, notify.NewTelegram("", "", logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := srv.Start(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete after cancellation")
	}
}
