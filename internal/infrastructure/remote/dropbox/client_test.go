package dropbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/sci-librarian/internal/infrastructure/resilience"
)

func testOptions(serverURL string) Options {
	return Options{
		APIBaseURL:     serverURL,
		ContentBaseURL: serverURL,
		Timeout:        5 * time.Second,
		Executor: resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:    1,
			RetryInitialBackoff: time.Millisecond,
			RetryMaxBackoff:     time.Millisecond,
			RetryMultiplier:     2,
			BreakerEnabled:      false,
		}),
	}
}

func TestListFolderFollowsCursorAndSkipsFolders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		switch r.URL.Path {
		case "/2/files/list_folder":
			if payload["path"] != "/0_inbox" {
				t.Fatalf("unexpected path argument: %v", payload["path"])
			}
			_, _ = w.Write([]byte(`{
				"entries": [
					{".tag":"file","id":"id:1","name":"a.pdf","path_display":"/0_inbox/a.pdf","content_hash":"h1"},
					{".tag":"folder","id":"id:dir","name":"sub","path_display":"/0_inbox/sub"}
				],
				"cursor": "cur-1",
				"has_more": true
			}`))
		case "/2/files/list_folder/continue":
			if payload["cursor"] != "cur-1" {
				t.Fatalf("unexpected cursor: %v", payload["cursor"])
			}
			_, _ = w.Write([]byte(`{
				"entries": [
					{".tag":"file","id":"id:2","name":"b.pdf","path_display":"/0_inbox/b.pdf","content_hash":"h2"}
				],
				"cursor": "cur-2",
				"has_more": false
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New("token", "/archive", testOptions(server.URL))
	entries, err := client.ListFolder(context.Background(), "/0_inbox")
	if err != nil {
		t.Fatalf("ListFolder() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 file entries, got %d", len(entries))
	}
	if entries[0].ID != "id:1" || entries[1].ID != "id:2" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Fingerprint != "h1" {
		t.Fatalf("unexpected fingerprint: %s", entries[0].Fingerprint)
	}
}

func TestListFolderRejectsMissingCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"entries": [], "has_more": true}`))
	}))
	defer server.Close()

	client := New("token", "/archive", testOptions(server.URL))
	_, err := client.ListFolder(context.Background(), "/0_inbox")
	if err == nil || !strings.Contains(err.Error(), "has_more without cursor") {
		t.Fatalf("expected missing-cursor error, got %v", err)
	}
}

func TestDownloadSendsAPIArgHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/files/download" {
			http.NotFound(w, r)
			return
		}
		var arg map[string]string
		if err := json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg); err != nil {
			t.Fatalf("decode api arg: %v", err)
		}
		if arg["path"] != "id:1" {
			t.Fatalf("unexpected download path: %q", arg["path"])
		}
		_, _ = w.Write([]byte("pdf bytes"))
	}))
	defer server.Close()

	client := New("token", "/archive", testOptions(server.URL))
	content, err := client.Download(context.Background(), "id:1")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(content) != "pdf bytes" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestUploadRefusesPathOutsideAllowedPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("upload outside the allowed prefix must not reach the server")
	}))
	defer server.Close()

	client := New("token", "/archive", testOptions(server.URL))
	err := client.Upload(context.Background(), "/0_inbox/escape.pdf", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "outside allowed prefix") {
		t.Fatalf("expected prefix rejection, got %v", err)
	}
}

func TestUploadUsesOverwriteMode(t *testing.T) {
	var gotMode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var arg map[string]any
		if err := json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg); err != nil {
			t.Fatalf("decode api arg: %v", err)
		}
		gotMode, _ = arg["mode"].(string)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New("token", "/archive", testOptions(server.URL))
	if err := client.Upload(context.Background(), "/archive/ml/a.pdf", []byte("x")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if gotMode != "overwrite" {
		t.Fatalf("expected overwrite mode, got %q", gotMode)
	}
}

func TestDownloadSurfacesRetryableStatusError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "too many write operations", http.StatusTooManyRequests)
	}))
	defer server.Close()

	opts := testOptions(server.URL)
	opts.Executor = resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	client := New("token", "/archive", opts)
	_, err := client.Download(context.Background(), "id:1")
	if err == nil || !strings.Contains(err.Error(), "too many write operations") {
		t.Fatalf("expected status error with body, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts for a retryable status, got %d", attempts)
	}
}
