package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

var ErrUploadFailed = errors.New("all upload attempts failed")

// fallbackServers are the fixed mirror hosts tried when server discovery
// fails or an upload attempt errors out.
var fallbackServers = []string{"store1", "store2", "store3", "store4", "store5"}

type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

// Result carries the links handed back to the user after a remote upload.
type Result struct {
	DirectLink string
	PageLink   string
	FileName   string
	Size       int64
}

// Client talks to the GoFile hosting API: one server-discovery call with
// retries, then multipart uploads attempted across mirrors. Upload timeouts
// grow with file size since the transfer dominates.
type Client struct {
	api      string
	http     *http.Client
	upload   *http.Client // no global timeout; bounded per call by context
	log      Logger
	hostTmpl string

	discoveryBackoff time.Duration // per-attempt unit, scaled by attempt number
	mirrorWait       time.Duration
}

func NewClient(log Logger) *Client {
	return &Client{
		api:              "https://api.gofile.io",
		http:             &http.Client{Timeout: 10 * time.Second},
		upload:           &http.Client{},
		log:              log,
		hostTmpl:         "https://%s.gofile.io/contents/uploadfile",
		discoveryBackoff: 2 * time.Second,
		mirrorWait:       3 * time.Second,
	}
}

// NewClientWithAPI is for tests pointing at a fake endpoint.
func NewClientWithAPI(api, hostTmpl string, log Logger) *Client {
	c := NewClient(log)
	c.api = api
	if hostTmpl != "" {
		c.hostTmpl = hostTmpl
	}
	return c
}

type serversResponse struct {
	Status string `json:"status"`
	Data   struct {
		Servers []struct {
			Name string `json:"name"`
		} `json:"servers"`
	} `json:"data"`
}

type uploadResponse struct {
	Status string `json:"status"`
	Data   struct {
		Code         string `json:"code"`
		DownloadPage string `json:"downloadPage"`
		Link         string `json:"link"`
	} `json:"data"`
}

// pickServer asks the API for the preferred upload server, falling back to
// the first fixed mirror after bounded retries.
func (c *Client) pickServer(ctx context.Context) string {
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", c.api+"/servers", nil)
		if err != nil {
			break
		}

		resp, err := c.http.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			var sr serversResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&sr)
			_ = resp.Body.Close()

			if decodeErr == nil && sr.Status == "ok" && len(sr.Data.Servers) > 0 {
				c.log.Debugf("gofile server ready: %s\n", sr.Data.Servers[0].Name)
				return sr.Data.Servers[0].Name
			}
		} else if resp != nil {
			_ = resp.Body.Close()
		}

		c.log.Errorf("gofile server discovery attempt %d failed\n", attempt)
		select {
		case <-ctx.Done():
			return fallbackServers[0]
		case <-time.After(time.Duration(attempt) * c.discoveryBackoff):
		}
	}

	c.log.Infof("gofile discovery exhausted, using fallback server\n")
	return fallbackServers[0]
}

// Upload pushes the file to GoFile, trying the discovered server first and
// then the fixed mirrors. Internal retries across mirrors are the caller's
// single black-box attempt: a nil error means links are ready to relay.
func (c *Client) Upload(ctx context.Context, path, name string) (*Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	hosts := []string{c.pickServer(ctx)}
	for _, s := range fallbackServers {
		if s != hosts[0] {
			hosts = append(hosts, s)
		}
	}

	// 10s per MB, at least 5 minutes.
	timeout := time.Duration(fi.Size()/(1<<20)) * 10 * time.Second
	if timeout < 5*time.Minute {
		timeout = 5 * time.Minute
	}

	for i, host := range hosts {
		res, err := c.uploadOnce(ctx, host, path, name, fi.Size(), timeout)
		if err == nil {
			c.log.Infof("uploaded %s to gofile via %s\n", name, host)
			return res, nil
		}

		c.log.Errorf("gofile upload via %s failed: %v\n", host, err)

		if i < len(hosts)-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.mirrorWait):
			}
		}
	}

	return nil, ErrUploadFailed
}

func (c *Client) uploadOnce(ctx context.Context, host, path, name string, size int64, timeout time.Duration) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.WriteField("folderId", ""); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	ctx, cancelFn := context.WithTimeout(ctx, timeout)
	defer cancelFn()

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf(c.hostTmpl, host), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.upload.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, err
	}
	if ur.Status != "ok" {
		return nil, fmt.Errorf("gofile status %q", ur.Status)
	}

	page := ur.Data.DownloadPage
	direct := ur.Data.Link
	if page == "" && ur.Data.Code != "" {
		page = "https://gofile.io/d/" + ur.Data.Code
	}
	if direct == "" {
		direct = page
	}
	if page == "" && direct == "" {
		return nil, errors.New("response missing download links")
	}

	return &Result{
		DirectLink: direct,
		PageLink:   page,
		FileName:   name,
		Size:       size,
	}, nil
}
