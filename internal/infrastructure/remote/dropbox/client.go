package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/resilience"
)

const (
	defaultAPIBaseURL     = "https://api.dropboxapi.com"
	defaultContentBaseURL = "https://content.dropboxapi.com"
	defaultTimeout        = 60 * time.Second
	listPageSize          = 1000
)

type Options struct {
	APIBaseURL     string
	ContentBaseURL string
	Timeout        time.Duration
	Limiter        *rate.Limiter
	Executor       *resilience.Executor
}

// Client is the Dropbox-backed RemoteStore. Uploads are confined to the
// allowed prefix so a misconfigured rule can never write outside the archive.
type Client struct {
	token         string
	allowedPrefix string

	apiBase     string
	contentBase string
	httpClient  *http.Client
	limiter     *rate.Limiter
	exec        *resilience.Executor
}

func New(token, allowedUploadPrefix string, opts Options) *Client {
	apiBase := opts.APIBaseURL
	if apiBase == "" {
		apiBase = defaultAPIBaseURL
	}
	contentBase := opts.ContentBaseURL
	if contentBase == "" {
		contentBase = defaultContentBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	exec := opts.Executor
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}

	return &Client{
		token:         token,
		allowedPrefix: strings.TrimRight(allowedUploadPrefix, "/"),
		apiBase:       strings.TrimRight(apiBase, "/"),
		contentBase:   strings.TrimRight(contentBase, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       opts.Limiter,
		exec:          exec,
	}
}

type listFolderEntry struct {
	Tag         string `json:".tag"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	PathDisplay string `json:"path_display"`
	ContentHash string `json:"content_hash"`
	Rev         string `json:"rev"`
}

type listFolderResponse struct {
	Entries []listFolderEntry `json:"entries"`
	Cursor  string            `json:"cursor"`
	HasMore bool              `json:"has_more"`
}

// ListFolder walks list_folder plus its continue cursor until has_more is
// false, so callers always see the complete listing.
func (c *Client) ListFolder(ctx context.Context, folder string) ([]domain.RemoteEntry, error) {
	var entries []domain.RemoteEntry

	page, err := c.listFolderPage(ctx, "/2/files/list_folder", map[string]any{
		"path":      folder,
		"recursive": false,
		"limit":     listPageSize,
	})
	if err != nil {
		return nil, err
	}
	entries = appendFileEntries(entries, page.Entries)

	for page.HasMore {
		if page.Cursor == "" {
			return nil, fmt.Errorf("dropbox list_folder: has_more without cursor")
		}
		page, err = c.listFolderPage(ctx, "/2/files/list_folder/continue", map[string]any{
			"cursor": page.Cursor,
		})
		if err != nil {
			return nil, err
		}
		entries = appendFileEntries(entries, page.Entries)
	}
	return entries, nil
}

func (c *Client) listFolderPage(ctx context.Context, path string, payload map[string]any) (listFolderResponse, error) {
	var page listFolderResponse
	err := c.exec.Execute(ctx, "dropbox_list_folder", func(ctx context.Context) error {
		return c.postJSON(ctx, c.apiBase+path, payload, &page, "list_folder")
	}, classifyDropboxError)
	if err != nil {
		return listFolderResponse{}, err
	}
	return page, nil
}

func appendFileEntries(entries []domain.RemoteEntry, page []listFolderEntry) []domain.RemoteEntry {
	for _, entry := range page {
		if entry.Tag != "file" {
			continue
		}
		fingerprint := entry.ContentHash
		if fingerprint == "" {
			fingerprint = entry.Rev
		}
		entries = append(entries, domain.RemoteEntry{
			ID:          domain.RemoteID(entry.ID),
			Name:        entry.Name,
			Path:        domain.RemotePath(entry.PathDisplay),
			Fingerprint: domain.Fingerprint(fingerprint),
		})
	}
	return entries
}

func (c *Client) Download(ctx context.Context, id domain.RemoteID) ([]byte, error) {
	arg, err := json.Marshal(map[string]string{"path": string(id)})
	if err != nil {
		return nil, fmt.Errorf("marshal download arg: %w", err)
	}

	var content []byte
	err = c.exec.Execute(ctx, "dropbox_download", func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentBase+"/2/files/download", nil)
		if err != nil {
			return fmt.Errorf("create download request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Dropbox-API-Arg", string(arg))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("dropbox download request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return newHTTPStatusError("download", resp)
		}
		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read download body: %w", err)
		}
		return nil
	}, classifyDropboxError)
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (c *Client) Upload(ctx context.Context, path domain.RemotePath, content []byte) error {
	if !c.uploadAllowed(string(path)) {
		return fmt.Errorf("dropbox upload: path %q is outside allowed prefix %q", path, c.allowedPrefix)
	}

	arg, err := json.Marshal(map[string]any{
		"path":       string(path),
		"mode":       "overwrite",
		"autorename": false,
		"mute":       true,
	})
	if err != nil {
		return fmt.Errorf("marshal upload arg: %w", err)
	}

	return c.exec.Execute(ctx, "dropbox_upload", func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentBase+"/2/files/upload", bytes.NewReader(content))
		if err != nil {
			return fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Dropbox-API-Arg", string(arg))
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("dropbox upload request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return newHTTPStatusError("upload", resp)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}, classifyDropboxError)
}

func (c *Client) uploadAllowed(path string) bool {
	if c.allowedPrefix == "" {
		return true
	}
	return path == c.allowedPrefix || strings.HasPrefix(path, c.allowedPrefix+"/")
}

func (c *Client) postJSON(ctx context.Context, url string, payload any, out any, operation string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dropbox %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newHTTPStatusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
