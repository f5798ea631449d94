package openaiimage

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEditImageBase64Result(t *testing.T) {
	var gotPrompt, gotModel, gotAuth, gotFile string
	var gotImage []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/edits" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			return
		}
		gotPrompt = r.FormValue("prompt")
		gotModel = r.FormValue("model")

		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("FormFile(image) error = %v", err)
			return
		}
		defer file.Close()
		gotFile = header.Filename
		gotImage, _ = io.ReadAll(file)

		w.Header().Set("content-type", "application/json")
		_, _ = io.WriteString(w, `{"created":1,"data":[{"b64_json":"UkVTVUxU"}]}`)
	}))
	defer srv.Close()

	c := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1", HTTPClient: srv.Client()})
	got, err := c.EditImage(context.Background(), "data:image/png;base64,U09VUkNF", "Sketch")
	if err != nil {
		t.Fatalf("EditImage() error = %v", err)
	}

	if got != "data:image/png;base64,UkVTVUxU" {
		t.Fatalf("EditImage() = %q", got)
	}
	if gotPrompt != "Sketch" || gotModel != "gpt-image-1" {
		t.Fatalf("prompt = %q, model = %q", gotPrompt, gotModel)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if string(gotImage) != "SOURCE" {
		t.Fatalf("uploaded image = %q", gotImage)
	}
	if !strings.HasSuffix(gotFile, ".png") {
		t.Fatalf("uploaded file name = %q", gotFile)
	}
}

func TestEditImageURLResult(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/images/edits", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = io.WriteString(w, `{"created":1,"data":[{"url":"`+srv.URL+`/files/result"}]}`)
	})
	const webp = "RIFF\x00\x00\x00\x00WEBPVP8 RESULT"
	mux.HandleFunc("/files/result", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/octet-stream")
		_, _ = io.WriteString(w, webp)
	})

	c := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1", HTTPClient: srv.Client()})
	got, err := c.EditImage(context.Background(), "data:image/png;base64,U09VUkNF", "Sketch")
	if err != nil {
		t.Fatalf("EditImage() error = %v", err)
	}
	if got != "data:image/webp;base64,"+base64.StdEncoding.EncodeToString([]byte(webp)) {
		t.Fatalf("EditImage() = %q", got)
	}
}

func TestEditImageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"requests","code":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	c := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1", HTTPClient: srv.Client()})
	_, err := c.EditImage(context.Background(), "data:image/png;base64,U09VUkNF", "Sketch")
	if err == nil || err.Error() != "openai API 429: rate limited" {
		t.Fatalf("EditImage() error = %v", err)
	}
}

func TestEditImageEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = io.WriteString(w, `{"created":1,"data":[]}`)
	}))
	defer srv.Close()

	c := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1", HTTPClient: srv.Client()})
	if _, err := c.EditImage(context.Background(), "data:image/png;base64,U09VUkNF", "Sketch"); err == nil {
		t.Fatal("EditImage() succeeded without data")
	}
}
