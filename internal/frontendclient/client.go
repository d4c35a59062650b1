// Package frontendclient implements the front-end API client: typed
// calls against the remote queue / file-store / result endpoints, built
// as a small net/http-based client with an explicit connect/read timeout
// pair and no retries — retry policy lives in the orchestrator.
package frontendclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"judgeworker/pkg/errors"
)

// MaxDownloadBytes is the size cap on any downloaded file: exceeding it
// aborts the download and fails the call.
const MaxDownloadBytes = 1 << 30

// SubmissionHeader is the identifying information returned by
// GetSubmission, parsed from the X-Server-Id / X-Param response headers.
type SubmissionHeader struct {
	SubmissionID string
	ProblemID    string
	StudentID    string
}

// Client is the worker's HTTP client for the front-end's three endpoint
// families (queue, file store, result sink).
type Client struct {
	baseURL        string
	connectTimeout time.Duration
	readTimeout    time.Duration
	http           *http.Client
}

// New builds a Client against baseURL with an explicit connect/read
// timeout pair.
func New(baseURL string, connectTimeout, readTimeout time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		http: &http.Client{
			Timeout: connectTimeout + readTimeout,
		},
	}
}

// GetSubmission streams the next queued submission's archive to
// destination. A 404 response (empty queue) returns (nil, nil); any other
// non-2xx status, or a missing/malformed X-Server-Id/X-Param header pair,
// is a hard error.
func (c *Client) GetSubmission(ctx context.Context, queueName, destination string) (*SubmissionHeader, error) {
	u := fmt.Sprintf("%s/qapi/qctrl.php?%s", c.baseURL, url.Values{"f": {"get"}, "name": {queueName}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.TransientHTTPStatus, "get_submission: unexpected status %d", resp.StatusCode)
	}

	submissionID := resp.Header.Get("X-Server-Id")
	xParam := resp.Header.Get("X-Param")
	if submissionID == "" || xParam == "" {
		return nil, errors.New(errors.TransientMalformedHdr)
	}
	parts := strings.SplitN(xParam, ";", 2)
	if len(parts) != 2 {
		return nil, errors.Newf(errors.TransientMalformedHdr, "invalid X-Param header format: %s", xParam)
	}

	if err := streamToFile(resp.Body, destination); err != nil {
		return nil, err
	}
	return &SubmissionHeader{SubmissionID: submissionID, ProblemID: parts[0], StudentID: parts[1]}, nil
}

// Notify posts a submission status update to the queue controller. Status
// updates are best-effort; callers log a failure and move on.
func (c *Client) Notify(ctx context.Context, submissionID, info string) error {
	u := fmt.Sprintf("%s/qapi/qctrl.php?%s", c.baseURL, url.Values{"f": {"notify"}, "id": {submissionID}}.Encode())
	form := url.Values{"id": {submissionID}, "info": {info}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf(errors.TransientHTTPStatus, "notify: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ListProblemFiles returns one file name per line of the text response,
// with any metadata after a colon stripped.
func (c *Client) ListProblemFiles(ctx context.Context, problemID string) ([]string, error) {
	u := fmt.Sprintf("%s/fsapi/fsctrl.php?%s", c.baseURL, url.Values{"f": {"list"}, "area": {"0"}, "pid": {problemID}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.TransientHTTPStatus, "list_problem_files: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes))
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	var names []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name := strings.TrimSpace(strings.SplitN(line, ":", 2)[0])
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// GetFile streams a single problem file to destination.
func (c *Client) GetFile(ctx context.Context, fileName, problemID, destination string) error {
	u := fmt.Sprintf("%s/fsapi/fsctrl.php?%s", c.baseURL, url.Values{"f": {"get"}, "area": {"0"}, "pid": {problemID}, "name": {fileName}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf(errors.TransientHTTPStatus, "get_file: unexpected status %d", resp.StatusCode)
	}
	return streamToFile(resp.Body, destination)
}

// PostResult multipart-uploads the submission's result/info/debug
// documents and returns the server's response message.
func (c *Client) PostResult(ctx context.Context, submissionID, result, info, debug string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("id", submissionID); err != nil {
		return "", errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	for field, content := range map[string]string{"result": result, "info": info, "debug": debug} {
		part, err := writer.CreateFormFile(field, field+".txt")
		if err != nil {
			return "", errors.Wrap(err, errors.TransientHTTPTimeout)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			return "", errors.Wrap(err, errors.TransientHTTPTimeout)
		}
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, errors.TransientHTTPTimeout)
	}

	u := c.baseURL + "/io-result.php"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return "", errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return string(respBody), errors.Newf(errors.TransientHTTPStatus, "post_result: unexpected status %d", resp.StatusCode)
	}
	return string(respBody), nil
}

func streamToFile(r io.Reader, destination string) error {
	f, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, errors.BadSubmissionArchive, "create destination %s", destination)
	}
	defer f.Close()
	limited := io.LimitReader(r, MaxDownloadBytes+1)
	n, err := io.Copy(f, limited)
	if err != nil {
		return errors.Wrap(err, errors.TransientHTTPTimeout)
	}
	if n > MaxDownloadBytes {
		return errors.Newf(errors.BadSubmissionArchive, "download exceeded %d bytes", MaxDownloadBytes)
	}
	return nil
}
