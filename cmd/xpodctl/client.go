package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xpod/core/cmn"
)

// apiClient is a minimal HTTP client over the admin/migration surfaces;
// xpodctl carries no gRPC or SDK dependency of its own since both server
// surfaces are already plain JSON-over-HTTP (spec §6).
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{base: base, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := cmn.MarshalJSONString(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewBufferString(b)
	}
	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return cmn.JSON.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) get(path string, out interface{}) error    { return c.do(http.MethodGet, path, nil, out) }
func (c *apiClient) post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}
func (c *apiClient) delete(path string) error { return c.do(http.MethodDelete, path, nil, nil) }

// nodeView and podView mirror the admin/migration surfaces' JSON shapes
// (router/admin.go's nodeDTO, router/migrationapi.go's podDTO) without
// importing the router package, keeping this client's dependency surface to
// net/http and cmn's JSON codec.
type nodeView struct {
	NodeID       string `json:"nodeId"`
	NodeType     string `json:"nodeType"`
	AccessMode   string `json:"accessMode"`
	InternalIP   string `json:"internalIp"`
	InternalPort int    `json:"internalPort"`
	PublicIP     string `json:"publicIp"`
	PublicPort   int    `json:"publicPort"`
	Connectivity string `json:"connectivityStatus"`
}

func (n nodeView) endpoint() string {
	if n.InternalIP != "" {
		return fmt.Sprintf("%s:%d", n.InternalIP, n.InternalPort)
	}
	if n.PublicIP != "" {
		return fmt.Sprintf("%s:%d", n.PublicIP, n.PublicPort)
	}
	return "-"
}

type podView struct {
	PodID     string `json:"podId"`
	BaseURL   string `json:"baseUrl"`
	AccountID string `json:"accountId"`
	NodeID    string `json:"nodeId"`
}

// serviceStatusView and logView mirror router/supervisorapi.go's supervisor
// HTTP surface (spec §6: GET /service/status, GET /service/logs).
type serviceStatusView struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	Pid          int    `json:"pid,omitempty"`
	Uptime       string `json:"uptime,omitempty"`
	RestartCount int    `json:"restartCount"`
	LastExitCode *int   `json:"lastExitCode,omitempty"`
}

type logView struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}
