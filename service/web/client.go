package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Client is a client of the web API.
type Client struct {
	addr       string
	httpClient *http.Client
}

// ClientError is an error from the server.
type ClientError struct {
	// Message is the specific error from the server.
	Message string
	// StatusCode is the HTTP status of the request.
	StatusCode int
}

func (e *ClientError) Error() string { return e.Message }

// NewClient creates a new Client for the server at addr.
func NewClient(addr string) *Client {
	return &Client{
		addr:       addr,
		httpClient: &http.Client{},
	}
}

func (c *Client) Status() (*Status, error) {
	var st *Status
	err := c.doGET("/api/status", &st)
	return st, err
}

// Pause requests a pause. The returned status does not reflect the halt
// yet, poll Status for StepReady.
func (c *Client) Pause() (*Status, error) {
	var st *Status
	err := c.doPOST("/api/pause", &st)
	return st, err
}

func (c *Client) Resume() (*Status, error) {
	var st *Status
	err := c.doPOST("/api/resume", &st)
	return st, err
}

func (c *Client) Step() (*Status, error) {
	var st *Status
	err := c.doPOST("/api/step", &st)
	return st, err
}

func (c *Client) SetStartPaused(b bool) (*Status, error) {
	v := "off"
	if b {
		v = "on"
	}
	var st *Status
	err := c.doPOST("/api/startpaused/"+v, &st)
	return st, err
}

func (c *Client) Registers(sm, start, count int, asFloat bool) (*RegisterFile, error) {
	var rf *RegisterFile
	err := c.doGET(fmt.Sprintf("/api/registers/%d", sm), &rf,
		[]string{"start", strconv.Itoa(start)},
		[]string{"count", strconv.Itoa(count)},
		[]string{"fp", strconv.FormatBool(asFloat)})
	return rf, err
}

func (c *Client) Window(sm, du, slot int, asFloat bool) (*Window, error) {
	var w *Window
	err := c.doGET(fmt.Sprintf("/api/window/%d/%d/%d", sm, du, slot), &w,
		[]string{"fp", strconv.FormatBool(asFloat)})
	return w, err
}

func (c *Client) BaseRegisters(sm int) (*BaseRegisters, error) {
	var br *BaseRegisters
	err := c.doGET(fmt.Sprintf("/api/base/%d", sm), &br)
	return br, err
}

func (c *Client) Resource() (*Resource, error) {
	var r *Resource
	err := c.doGET("/api/resource", &r)
	return r, err
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://%s%s", c.addr, path)
}

// doGET performs an HTTP GET to path and stores the resulting API object in
// obj. Query parameters are passed as an array of 2-element string arrays
// representing key-value pairs.
func (c *Client) doGET(path string, obj interface{}, params ...[]string) error {
	u, err := url.Parse(c.url(path))
	if err != nil {
		return err
	}
	q := u.Query()
	for _, p := range params {
		q.Set(p[0], p[1])
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, obj)
}

// doPOST performs an HTTP POST to path and stores the resulting API object
// in obj.
func (c *Client) doPOST(path string, obj interface{}) error {
	req, err := http.NewRequest("POST", c.url(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, obj)
}

func (c *Client) do(req *http.Request, obj interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Extract error text and return
	if resp.StatusCode != http.StatusOK {
		contents, _ := io.ReadAll(resp.Body)
		return &ClientError{Message: string(contents), StatusCode: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(obj)
}
