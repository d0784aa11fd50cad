package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

// Client talks to the PlagiaScan HTTP API. It attaches the session
// credential to every request and maps failures to typed errors. It
// owns no tracker state and never mutates anything beyond the wire.
type Client struct {
	base string
	http *retryablehttp.Client
	sess *Session
}

func New(base string, sess *Session) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = log.New(io.Discard, "", 0)
	// Transient transport and 5xx failures are retried a few times;
	// 4xx responses (including 401) are returned as-is.
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 30 * time.Second

	return &Client{
		base: strings.TrimRight(base, "/"),
		http: rc,
		sess: sess,
	}
}

// do sends one request and returns the response body. 401 maps to
// ErrUnauthorized, every other non-2xx to a RequestError carrying the
// server's "detail" message when the body has one.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return "", &RequestError{Message: err.Error()}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.sess.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &RequestError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RequestError{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	bodyStr := string(raw)

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.Get(bodyStr, "detail").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &RequestError{StatusCode: resp.StatusCode, Message: msg}
	}
	return bodyStr, nil
}

// Login exchanges credentials for a bearer token. The token is stored
// on the session and also returned so the caller can persist it.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	body, err := c.do(ctx, http.MethodPost, "/auth/login",
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return "", err
	}

	tok := gjson.Get(body, "access_token").String()
	if tok == "" {
		return "", &RequestError{Message: "login response missing access_token"}
	}
	c.sess.SetToken(tok)
	return tok, nil
}

func (c *Client) Register(ctx context.Context, email, password, fullName string) error {
	q := url.Values{}
	q.Set("email", email)
	q.Set("password", password)
	if fullName != "" {
		q.Set("full_name", fullName)
	}
	_, err := c.do(ctx, http.MethodPost, "/auth/register?"+q.Encode(), "", nil)
	return err
}

// UploadDocument sends the file as a multipart form. Extension
// filtering happens upstream in the document tracker; the server stays
// the final authority on what it accepts.
func (c *Client) UploadDocument(ctx context.Context, path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, &RequestError{Message: err.Error()}
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err == nil {
		_, err = io.Copy(part, f)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return Document{}, &RequestError{Message: err.Error()}
	}

	body, err := c.do(ctx, http.MethodPost, "/documents/", mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:       gjson.Get(body, "document_id").Int(),
		Filename: filepath.Base(path),
		Status:   gjson.Get(body, "status").String(),
	}, nil
}

func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	body, err := c.do(ctx, http.MethodGet, "/documents/", "", nil)
	if err != nil {
		return nil, err
	}

	docs := []Document{}
	for _, d := range gjson.Parse(body).Array() {
		docs = append(docs, Document{
			ID:       d.Get("id").Int(),
			Filename: d.Get("filename").String(),
			Status:   d.Get("status").String(),
		})
	}
	return docs, nil
}

func (c *Client) GetDocument(ctx context.Context, id int64) (Document, error) {
	body, err := c.do(ctx, http.MethodGet, "/documents/"+formatID(id), "", nil)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:       gjson.Get(body, "id").Int(),
		Filename: gjson.Get(body, "filename").String(),
		Status:   gjson.Get(body, "status").String(),
	}, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/documents/"+formatID(id), "", nil)
	return err
}

func (c *Client) InitiateScan(ctx context.Context, documentID int64) (ScanHandle, error) {
	payload, err := json.Marshal(map[string]int64{"document_id": documentID})
	if err != nil {
		return ScanHandle{}, &RequestError{Message: err.Error()}
	}

	body, err := c.do(ctx, http.MethodPost, "/scans/", "application/json", payload)
	if err != nil {
		return ScanHandle{}, err
	}
	return ScanHandle{ScanID: gjson.Get(body, "scan_id").Int()}, nil
}

func (c *Client) GetScan(ctx context.Context, scanID int64) (Scan, error) {
	body, err := c.do(ctx, http.MethodGet, "/scans/"+formatID(scanID), "", nil)
	if err != nil {
		return Scan{}, err
	}
	return parseScan(body), nil
}

func parseScan(body string) Scan {
	s := Scan{
		ScanID:     gjson.Get(body, "id").Int(),
		DocumentID: gjson.Get(body, "document_id").Int(),
		Status:     gjson.Get(body, "status").String(),
		Score:      gjson.Get(body, "score").Float(),
	}

	rep := gjson.Get(body, "report")
	if !rep.IsObject() {
		return s
	}

	r := &Report{
		TotalChunks:   int(rep.Get("total_chunks").Int()),
		MatchedChunks: int(rep.Get("matched_chunks").Int()),
		Error:         rep.Get("error").String(),
	}
	for _, m := range rep.Get("matches").Array() {
		r.Matches = append(r.Matches, Match{
			ChunkIndex: int(m.Get("chunk_index").Int()),
			ChunkText:  m.Get("chunk_text").String(),
			BestMatch: BestMatch{
				Score:       m.Get("best_match.score").Float(),
				Text:        m.Get("best_match.text").String(),
				SourceDocID: m.Get("best_match.source_doc_id").Int(),
			},
		})
	}
	if ai := rep.Get("ai_detection"); ai.IsObject() {
		r.AIDetection = &AIDetection{
			AIProbability: ai.Get("ai_probability").Float(),
			Label:         ai.Get("label").String(),
		}
	}
	s.Report = r
	return s
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
