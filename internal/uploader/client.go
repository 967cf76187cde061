package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/programadorcaro/nenoflix-uploader/pkg/protocol"
)

// apiClient speaks the chunked-upload HTTP protocol to one server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(serverURL string, hc *http.Client) *apiClient {
	if !strings.HasPrefix(serverURL, "http") {
		serverURL = "http://" + serverURL
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &apiClient{baseURL: strings.TrimRight(serverURL, "/"), http: hc}
}

func (a *apiClient) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (a *apiClient) initUpload(ctx context.Context, req protocol.InitRequest) (protocol.InitResponse, error) {
	var out protocol.InitResponse
	if err := a.postJSON(ctx, "/upload/init", req, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, fmt.Errorf("init rejected: %s", out.Error)
	}
	return out, nil
}

// countingReader reports bytes as they leave the source file, so
// progress reflects payload bytes rather than multipart framing.
type countingReader struct {
	r     io.Reader
	count func(n int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.count != nil {
		c.count(n)
	}
	return n, err
}

// sendChunk streams one chunk as a multipart form. The body is piped
// rather than buffered, so a 100MB chunk never lives in memory whole.
func (a *apiClient) sendChunk(ctx context.Context, uploadID string, index int, body io.Reader, count func(n int)) (protocol.ChunkResponse, error) {
	var out protocol.ChunkResponse

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeChunkForm(mw, uploadID, index, &countingReader{r: body, count: count})
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/upload/chunk", pr)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("send chunk %d: %w", index, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read chunk response: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(raw))
	}
	if !out.Success {
		return out, fmt.Errorf("chunk %d rejected: %s", index, out.Error)
	}
	return out, nil
}

func writeChunkForm(mw *multipart.Writer, uploadID string, index int, body io.Reader) error {
	if err := mw.WriteField(protocol.FieldUploadID, uploadID); err != nil {
		return err
	}
	if err := mw.WriteField(protocol.FieldChunkIndex, strconv.Itoa(index)); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile(protocol.FieldChunk, fmt.Sprintf("chunk-%d", index))
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, body)
	return err
}

func (a *apiClient) complete(ctx context.Context, uploadID string) (protocol.CompleteResponse, error) {
	var out protocol.CompleteResponse
	err := a.postJSON(ctx, "/upload/complete", protocol.CompleteRequest{UploadID: uploadID}, &out)
	return out, err
}

func (a *apiClient) status(ctx context.Context, uploadID string) (protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/upload/status/"+uploadID, nil)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return out, errSessionGone
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read status response: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(raw))
	}
	return out, nil
}
