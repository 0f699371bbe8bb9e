package socket

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Client connects to the kwatch daemon over a Unix socket.
type Client struct {
	sockPath string
}

// NewClient creates a client that will connect to the given socket path.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath}
}

// Match sends a match request. mode is "first" or "all"; empty means first.
func (c *Client) Match(text, mode string) (*MatchResult, error) {
	var result MatchResult
	err := c.do(Request{
		ID:     "1",
		Method: MethodMatch,
		Params: MatchParams{Text: text, Mode: mode},
	}, &result, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Health sends a health check request.
func (c *Client) Health() (*HealthResult, error) {
	var result HealthResult
	if err := c.do(Request{ID: "1", Method: MethodHealth}, &result, 5*time.Second); err != nil {
		return nil, err
	}
	return &result, nil
}

// Hits fetches up to limit recent hits, newest first.
func (c *Client) Hits(limit int) (*HitsResult, error) {
	var result HitsResult
	err := c.do(Request{
		ID:     "1",
		Method: MethodHits,
		Params: HitsParams{Limit: limit},
	}, &result, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Reload asks the daemon to rebuild its matcher from the dictionary file.
// Large dictionaries take a while, so the timeout is extended.
func (c *Client) Reload() (*ReloadResult, error) {
	var result ReloadResult
	if err := c.do(Request{ID: "1", Method: MethodReload}, &result, 60*time.Second); err != nil {
		return nil, err
	}
	return &result, nil
}

// Wipe asks the daemon to delete every stored hit and seen key.
func (c *Client) Wipe() error {
	_, err := c.callWithTimeout(Request{ID: "1", Method: MethodWipe}, 30*time.Second)
	return err
}

// Shutdown sends a shutdown request to the daemon.
func (c *Client) Shutdown() error {
	_, err := c.callWithTimeout(Request{ID: "1", Method: MethodShutdown}, 5*time.Second)
	return err
}

// Ping checks if the daemon is reachable.
func (c *Client) Ping() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// do calls the daemon and decodes the result into out.
func (c *Client) do(req Request, out any, timeout time.Duration) error {
	resp, err := c.callWithTimeout(req, timeout)
	if err != nil {
		return err
	}
	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	if err := json.Unmarshal(resultJSON, out); err != nil {
		return errors.Wrap(err, "unmarshal result")
	}
	return nil
}

func (c *Client) callWithTimeout(req Request, timeout time.Duration) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.sockPath, 2*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	defer conn.Close()

	// Set deadline for the whole request/response
	conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, errors.Wrap(err, "write")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4*1024*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrap(err, "read")
		}
		return nil, errors.New("empty response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, errors.Wrap(err, "unmarshal response")
	}
	if resp.Error != "" {
		return nil, errors.Errorf("server error: %s", resp.Error)
	}
	return &resp, nil
}
