package transports

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rzbill/relay/pkg/report"
)

func newTestTransport(t *testing.T, handler http.Handler) *HTTPTransport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr, err := NewHTTPTransport(HTTPOptions{
		Endpoint: srv.URL,
		Project:  "demo",
		APIKey:   "secret-key",
	})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return tr
}

func TestStartLaunch(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody StartLaunchRequest
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "launch-uuid-1"})
	}))

	uuid, err := tr.StartLaunch(context.Background(), StartLaunchRequest{
		Name:        "nightly",
		StartTimeMs: 1700000000000,
		Mode:        report.LaunchModeDefault,
	})
	if err != nil {
		t.Fatalf("start launch: %v", err)
	}
	if uuid != "launch-uuid-1" {
		t.Fatalf("uuid = %q", uuid)
	}
	if gotPath != "/api/v2/demo/launch" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody.Name != "nightly" || gotBody.StartTimeMs != 1700000000000 {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestStartItemNestedPath(t *testing.T) {
	var gotPath string
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "item-uuid"})
	}))

	if _, err := tr.StartItem(context.Background(), StartItemRequest{
		LaunchUUID: "l", Name: "root", Type: report.ItemTypeSuite, HasStats: true,
	}); err != nil {
		t.Fatalf("root item: %v", err)
	}
	if gotPath != "/api/v2/demo/item" {
		t.Fatalf("root path = %q", gotPath)
	}

	if _, err := tr.StartItem(context.Background(), StartItemRequest{
		LaunchUUID: "l", ParentUUID: "parent-1", Name: "child",
		Type: report.ItemTypeStep,
	}); err != nil {
		t.Fatalf("child item: %v", err)
	}
	if gotPath != "/api/v2/demo/item/parent-1" {
		t.Fatalf("child path = %q", gotPath)
	}
}

func TestFinishUsesPut(t *testing.T) {
	var gotMethod, gotPath string
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	err := tr.FinishItem(context.Background(), FinishItemRequest{
		ItemUUID: "item-9", LaunchUUID: "l", EndTimeMs: 1, Status: report.StatusPassed,
	})
	if err != nil {
		t.Fatalf("finish item: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/v2/demo/item/item-9" {
		t.Fatalf("got %s %s", gotMethod, gotPath)
	}

	err = tr.FinishLaunch(context.Background(), FinishLaunchRequest{
		LaunchUUID: "l", EndTimeMs: 2,
	})
	if err != nil {
		t.Fatalf("finish launch: %v", err)
	}
	if gotPath != "/api/v2/demo/launch/l/finish" {
		t.Fatalf("launch path = %q", gotPath)
	}
}

func TestSendLogBatchMultipart(t *testing.T) {
	type recorded struct {
		entries []LogEntry
		files   map[string][]byte
	}
	var got recorded
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Errorf("content type = %q (%v)", mediaType, err)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		got.files = map[string][]byte{}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("next part: %v", err)
				return
			}
			data, _ := io.ReadAll(part)
			if part.FormName() == jsonPartName {
				if err := json.Unmarshal(data, &got.entries); err != nil {
					t.Errorf("decode entries: %v", err)
				}
				continue
			}
			got.files[part.FileName()] = data
		}
		w.WriteHeader(http.StatusCreated)
	}))

	entries := []LogEntry{
		{LaunchUUID: "l", ItemUUID: "i", TimeMs: 10, Level: "INFO", Message: "plain"},
		{LaunchUUID: "l", ItemUUID: "i", TimeMs: 11, Level: "ERROR", Message: "with file",
			File: &LogFile{Name: "dump.bin", ContentType: "application/octet-stream", Content: []byte{1, 2, 3}}},
	}
	if err := tr.SendLogBatch(context.Background(), entries); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(got.entries) != 2 || got.entries[1].Message != "with file" {
		t.Fatalf("entries = %+v", got.entries)
	}
	if string(got.files["dump.bin"]) != "\x01\x02\x03" {
		t.Fatalf("files = %+v", got.files)
	}
}

func TestSendLogBatchEmptyIsNoop(t *testing.T) {
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request for empty batch")
	}))
	if err := tr.SendLogBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty send: %v", err)
	}
}

func TestNonSuccessStatusSurfaces(t *testing.T) {
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"project not found"}`, http.StatusNotFound)
	}))

	_, err := tr.StartLaunch(context.Background(), StartLaunchRequest{Name: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T", err)
	}
	if se.Code != http.StatusNotFound {
		t.Fatalf("code = %d", se.Code)
	}
}

func TestNewHTTPTransportValidation(t *testing.T) {
	if _, err := NewHTTPTransport(HTTPOptions{Project: "p"}); err == nil {
		t.Fatal("missing endpoint accepted")
	}
	if _, err := NewHTTPTransport(HTTPOptions{Endpoint: "http://x"}); err == nil {
		t.Fatal("missing project accepted")
	}
	if _, err := NewHTTPTransport(HTTPOptions{Endpoint: "ftp://x", Project: "p"}); err == nil {
		t.Fatal("bad scheme accepted")
	}
}
