package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rzbill/relay/pkg/log"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// jsonPartName is the multipart field carrying the log entry array.
	jsonPartName = "json_request_part"
)

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	// Endpoint is the service base URL, e.g. "https://report.example.com".
	Endpoint string
	// Project scopes all requests.
	Project string
	// APIKey is sent as a bearer token.
	APIKey string
	// Timeout bounds each request. Zero means defaultHTTPTimeout.
	Timeout time.Duration
	// HTTPClient overrides the underlying client. Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     log.Logger
}

// HTTPTransport delivers launches, items and log batches over the service's
// JSON API. Log batches are multipart: one JSON part with the entry array,
// plus one binary part per attachment.
type HTTPTransport struct {
	base   string
	apiKey string
	http   *http.Client
	logger log.Logger
}

var _ ReportTransport = (*HTTPTransport)(nil)

// NewHTTPTransport validates opts and builds the transport.
func NewHTTPTransport(opts HTTPOptions) (*HTTPTransport, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("transports: Endpoint is required")
	}
	if opts.Project == "" {
		return nil, fmt.Errorf("transports: Project is required")
	}
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("transports: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transports: endpoint scheme %q not supported", u.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	base := strings.TrimRight(opts.Endpoint, "/") + "/api/v2/" + url.PathEscape(opts.Project)
	return &HTTPTransport{
		base:   base,
		apiKey: opts.APIKey,
		http:   hc,
		logger: logger.WithComponent("transport.http"),
	}, nil
}

// entityRef is the service's creation response.
type entityRef struct {
	ID string `json:"id"`
}

func (t *HTTPTransport) StartLaunch(ctx context.Context, req StartLaunchRequest) (string, error) {
	var ref entityRef
	if err := t.doJSON(ctx, http.MethodPost, "/launch", req, &ref); err != nil {
		return "", err
	}
	t.logger.Debug("launch started", log.Str("uuid", ref.ID), log.Str("name", req.Name))
	return ref.ID, nil
}

func (t *HTTPTransport) FinishLaunch(ctx context.Context, req FinishLaunchRequest) error {
	if req.LaunchUUID == "" {
		return fmt.Errorf("transports: FinishLaunch: empty launch uuid")
	}
	path := "/launch/" + url.PathEscape(req.LaunchUUID) + "/finish"
	return t.doJSON(ctx, http.MethodPut, path, req, nil)
}

func (t *HTTPTransport) StartItem(ctx context.Context, req StartItemRequest) (string, error) {
	path := "/item"
	if req.ParentUUID != "" {
		path += "/" + url.PathEscape(req.ParentUUID)
	}
	var ref entityRef
	if err := t.doJSON(ctx, http.MethodPost, path, req, &ref); err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (t *HTTPTransport) FinishItem(ctx context.Context, req FinishItemRequest) error {
	if req.ItemUUID == "" {
		return fmt.Errorf("transports: FinishItem: empty item uuid")
	}
	path := "/item/" + url.PathEscape(req.ItemUUID)
	return t.doJSON(ctx, http.MethodPut, path, req, nil)
}

// SendLogBatch posts the entries as one multipart request. Entries carrying
// a File gain a binary part named after the file.
func (t *HTTPTransport) SendLogBatch(ctx context.Context, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	jsonHdr := textproto.MIMEHeader{}
	jsonHdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, jsonPartName))
	jsonHdr.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(jsonHdr)
	if err != nil {
		return fmt.Errorf("transports: create json part: %w", err)
	}
	if err := json.NewEncoder(part).Encode(entries); err != nil {
		return fmt.Errorf("transports: encode log entries: %w", err)
	}

	for _, e := range entries {
		if e.File == nil {
			continue
		}
		fileHdr := textproto.MIMEHeader{}
		fileHdr.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename=%q`, e.File.Name))
		ct := e.File.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		fileHdr.Set("Content-Type", ct)
		fp, err := mw.CreatePart(fileHdr)
		if err != nil {
			return fmt.Errorf("transports: create file part %s: %w", e.File.Name, err)
		}
		if _, err := fp.Write(e.File.Content); err != nil {
			return fmt.Errorf("transports: write file part %s: %w", e.File.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("transports: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/log", &body)
	if err != nil {
		return fmt.Errorf("transports: build log request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	t.setAuth(req)

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("transports: send log batch: %w", err)
	}
	defer drainAndClose(resp.Body)
	if err := checkStatus(resp); err != nil {
		return err
	}
	t.logger.Debug("log batch sent",
		log.Int("entries", len(entries)),
		log.Int("bytes", body.Len()))
	return nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.http.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) doJSON(ctx context.Context, method, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("transports: encode %s %s: %w", method, path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("transports: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.setAuth(req)

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("transports: %s %s: %w", method, path, err)
	}
	defer drainAndClose(resp.Body)
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transports: decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (t *HTTPTransport) setAuth(req *http.Request) {
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
}

// StatusError reports a non-2xx response with a clipped body excerpt.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transports: http %d", e.Code)
	}
	return fmt.Sprintf("transports: http %d: %s", e.Code, e.Body)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}
