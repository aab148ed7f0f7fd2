package gdrive

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testTokenSource(t *testing.T, tokenURL string) *TokenSource {
	t.Helper()
	pemText, _ := testKeyPEM(t)
	ts, err := NewTokenSource(TokenSourceOptions{
		ClientEmail: "bot@example.iam.gserviceaccount.com",
		PrivateKey:  pemText,
		TokenURL:    tokenURL,
	})
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}
	return ts
}

func TestUploadCreatesFileAndGrantsLinkAccess(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "at", "expires_in": 3600}`))
	})

	var uploadedName, uploadedMedia string
	mux.HandleFunc("/upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at" {
			t.Errorf("authorization = %q", got)
		}
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/related" {
			t.Errorf("content type = %q err = %v", r.Header.Get("Content-Type"), err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])

		metaPart, err := mr.NextPart()
		if err != nil {
			t.Errorf("metadata part: %v", err)
			return
		}
		var metadata struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		}
		if err := json.NewDecoder(metaPart).Decode(&metadata); err != nil {
			t.Errorf("decode metadata: %v", err)
		}
		uploadedName = metadata.Name
		if len(metadata.Parents) != 1 || metadata.Parents[0] != "folder-1" {
			t.Errorf("parents = %v", metadata.Parents)
		}

		mediaPart, err := mr.NextPart()
		if err != nil {
			t.Errorf("media part: %v", err)
			return
		}
		media, _ := io.ReadAll(mediaPart)
		uploadedMedia = string(media)
		if got := mediaPart.Header.Get("Content-Type"); got != "image/jpeg" {
			t.Errorf("media content type = %q", got)
		}

		_, _ = w.Write([]byte(`{"id": "file-77"}`))
	})

	var permission map[string]string
	mux.HandleFunc("/drive/v3/files/file-77/permissions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&permission)
		_, _ = w.Write([]byte(`{"id": "perm-1"}`))
	})

	folder, err := NewFolder(FolderOptions{
		Tokens:   testTokenSource(t, server.URL+"/token"),
		FolderID: "folder-1",
		APIBase:  server.URL,
	})
	if err != nil {
		t.Fatalf("new folder: %v", err)
	}

	url, err := folder.Upload(context.Background(), "20240501_truck_AB-12_inv.jpg", "image/jpeg", []byte("jpegbytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://drive.google.com/uc?id=file-77" {
		t.Fatalf("url = %q", url)
	}
	if uploadedName != "20240501_truck_AB-12_inv.jpg" || uploadedMedia != "jpegbytes" {
		t.Fatalf("uploaded name=%q media=%q", uploadedName, uploadedMedia)
	}
	if permission["role"] != "reader" || permission["type"] != "anyone" {
		t.Fatalf("permission = %v", permission)
	}
}

func TestUploadSurfacesDriveError(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "at", "expires_in": 3600}`))
	})
	mux.HandleFunc("/upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"message": "storage quota exceeded"}}`))
	})

	folder, err := NewFolder(FolderOptions{
		Tokens:   testTokenSource(t, server.URL+"/token"),
		FolderID: "folder-1",
		APIBase:  server.URL,
	})
	if err != nil {
		t.Fatalf("new folder: %v", err)
	}
	_, err = folder.Upload(context.Background(), "x.jpg", "image/jpeg", []byte("x"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err = %v", err)
	}
}
