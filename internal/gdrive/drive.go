package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultAPIBase = "https://www.googleapis.com"

type FolderOptions struct {
	Tokens     *TokenSource
	FolderID   string
	APIBase    string
	HTTPClient *http.Client
}

// Folder uploads files into one Drive folder and makes them link-viewable.
type Folder struct {
	tokens     *TokenSource
	folderID   string
	apiBase    string
	httpClient *http.Client
}

func NewFolder(opts FolderOptions) (*Folder, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("drive token source is required")
	}
	folderID := strings.TrimSpace(opts.FolderID)
	if folderID == "" {
		return nil, fmt.Errorf("drive folder id is required")
	}
	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Folder{
		tokens:     opts.Tokens,
		folderID:   folderID,
		apiBase:    apiBase,
		httpClient: httpClient,
	}, nil
}

// Upload stores the file in the folder, grants anyone-with-the-link read
// access, and returns a shareable URL.
func (f *Folder) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if f == nil {
		return "", fmt.Errorf("drive folder is nil")
	}
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	fileID, err := f.uploadMultipart(ctx, token, name, contentType, data)
	if err != nil {
		return "", err
	}
	if err := f.shareWithLink(ctx, token, fileID); err != nil {
		return "", err
	}
	return "https://drive.google.com/uc?id=" + fileID, nil
}

func (f *Folder) uploadMultipart(ctx context.Context, token, name, contentType string, data []byte) (string, error) {
	metadata := map[string]any{
		"name":    name,
		"parents": []string{f.folderID},
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", err
	}
	if _, err := metaPart.Write(metadataJSON); err != nil {
		return "", err
	}
	mediaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {contentType}})
	if err != nil {
		return "", err
	}
	if _, err := mediaPart.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := f.apiBase + "/upload/drive/v3/files?uploadType=multipart"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	respBody, err := f.do(req, "drive upload")
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("decode drive upload response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("drive upload returned no file id")
	}
	return created.ID, nil
}

func (f *Folder) shareWithLink(ctx context.Context, token, fileID string) error {
	payload, err := json.Marshal(map[string]string{"role": "reader", "type": "anyone"})
	if err != nil {
		return err
	}
	url := f.apiBase + "/drive/v3/files/" + fileID + "/permissions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	_, err = f.do(req, "drive permission grant")
	return err
}

func (f *Folder) do(req *http.Request, what string) ([]byte, error) {
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s failed: status=%d body=%s", what, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
