// internal/storage/client.go
package storage

import (
	"encoding/json"
	"net"
	"time"

	"github.com/arcadelab/arcade/internal/protocol"
)

// Client issues one-shot requests to the storage service. Each call
// opens a fresh connection, sends a single request, reads the single
// response and closes.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient returns a client for the storage service at addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: 5 * time.Second}
}

// Response is the decoded storage reply. Fields beyond status and
// reason stay raw so callers can pull out what they asked for.
type Response struct {
	Status string
	Reason string
	Fields map[string]json.RawMessage
}

// OK reports whether the storage service accepted the request.
func (r Response) OK() bool { return r.Status == protocol.StatusOK }

// Get unmarshals the named extra field into dst.
func (r Response) Get(key string, dst any) error {
	raw, ok := r.Fields[key]
	if !ok {
		return json.Unmarshal([]byte("null"), dst)
	}
	return json.Unmarshal(raw, dst)
}

// Do sends one request. Connection failures map to the db error tokens
// the lobby forwards to its own clients.
func (c *Client) Do(collection, action string, data any) (Response, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Response{}, err
		}
		raw = b
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return Response{
			Status: protocol.StatusError,
			Reason: protocol.ReasonDBConnectionError,
		}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	req := protocol.StorageRequest{Collection: collection, Action: action, Data: raw}
	if err := protocol.WriteJSON(conn, req); err != nil {
		return Response{
			Status: protocol.StatusError,
			Reason: protocol.ReasonDBConnectionError,
		}, err
	}

	body, err := protocol.ReadFrame(conn)
	if err != nil {
		return Response{
			Status: protocol.StatusError,
			Reason: protocol.ReasonDBNoResponse,
		}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Response{
			Status: protocol.StatusError,
			Reason: protocol.ReasonDBNoResponse,
		}, err
	}

	resp := Response{Fields: fields}
	if raw, ok := fields["status"]; ok {
		json.Unmarshal(raw, &resp.Status)
	}
	if raw, ok := fields["reason"]; ok {
		json.Unmarshal(raw, &resp.Reason)
	}
	return resp, nil
}
