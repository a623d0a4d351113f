// Package apiclient is a thin HTTP and websocket client for the dispatch API,
// used by the operational tools under cmd/.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"taxidispatch/internal/config"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(cfg config.ClientConfig) *Client {
	return &Client{
		base:  strings.TrimRight(cfg.APIBase, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
	}
}

// WithToken returns a copy authenticated as another user.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if key, ok := ctx.Value(idempotencyKey{}).(string); ok {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var body struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return &Error{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches an Idempotency-Key header to requests made with ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

type NewUser struct {
	ID           string        `json:"id,omitempty"`
	Role         dispatch.Role `json:"role"`
	Name         string        `json:"name"`
	Phone        string        `json:"phone,omitempty"`
	VehicleModel string        `json:"carModel,omitempty"`
	LicensePlate string        `json:"licensePlate,omitempty"`
	Rating       float64       `json:"rating,omitempty"`
}

type CreatedUser struct {
	User struct {
		ID   string        `json:"id"`
		Role dispatch.Role `json:"role"`
		Name string        `json:"name"`
	} `json:"user"`
	Token string `json:"token"`
}

// CreateUser needs an admin token.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (CreatedUser, error) {
	var out CreatedUser
	err := c.do(ctx, http.MethodPost, "/api/admin/users", u, &out)
	return out, err
}

func (c *Client) UpdateLocation(ctx context.Context, p geo.Point) (dispatch.Driver, error) {
	var out dispatch.Driver
	err := c.do(ctx, http.MethodPost, "/api/drivers/me/location", p, &out)
	return out, err
}

func (c *Client) SetOnline(ctx context.Context, online bool) (dispatch.Driver, error) {
	var out dispatch.Driver
	err := c.do(ctx, http.MethodPost, "/api/drivers/me/online", map[string]bool{"online": online}, &out)
	return out, err
}

type RideRequest struct {
	Pickup        dispatch.Place         `json:"pickup"`
	Destination   dispatch.Place         `json:"destination"`
	RideType      geo.RideClass          `json:"rideType"`
	PaymentMethod dispatch.PaymentMethod `json:"paymentMethod,omitempty"`
}

// RequestRide creates a ride. With wait it blocks until a driver accepts or
// matching gives up.
func (c *Client) RequestRide(ctx context.Context, req RideRequest, wait bool) (dispatch.Ride, error) {
	path := "/api/rides"
	if wait {
		path += "?wait=true"
	}
	var out dispatch.Ride
	err := c.do(ctx, http.MethodPost, path, req, &out)
	return out, err
}

func (c *Client) GetRide(ctx context.Context, rideID string) (dispatch.Ride, error) {
	var out dispatch.Ride
	err := c.do(ctx, http.MethodGet, "/api/rides/"+url.PathEscape(rideID), nil, &out)
	return out, err
}

func (c *Client) ActiveRide(ctx context.Context) (dispatch.Ride, error) {
	var out dispatch.Ride
	err := c.do(ctx, http.MethodGet, "/api/rides/active", nil, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, limit, offset int) ([]dispatch.Ride, error) {
	var out struct {
		Rides []dispatch.Ride `json:"rides"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}, "offset": {strconv.Itoa(offset)}}
	err := c.do(ctx, http.MethodGet, "/api/rides/history?"+q.Encode(), nil, &out)
	return out.Rides, err
}

func (c *Client) AcceptRide(ctx context.Context, rideID string) (dispatch.Ride, error) {
	var out dispatch.Ride
	err := c.do(ctx, http.MethodPost, "/api/rides/"+url.PathEscape(rideID)+"/accept", nil, &out)
	return out, err
}

func (c *Client) DeclineRide(ctx context.Context, rideID string) error {
	return c.do(ctx, http.MethodPost, "/api/rides/"+url.PathEscape(rideID)+"/decline", nil, nil)
}

func (c *Client) UpdateStatus(ctx context.Context, rideID string, status dispatch.RideStatus) (dispatch.Ride, error) {
	var out dispatch.Ride
	err := c.do(ctx, http.MethodPost, "/api/rides/"+url.PathEscape(rideID)+"/status", map[string]dispatch.RideStatus{"status": status}, &out)
	return out, err
}

func (c *Client) CancelRide(ctx context.Context, rideID, reason string) (dispatch.Ride, error) {
	var out dispatch.Ride
	err := c.do(ctx, http.MethodPost, "/api/rides/"+url.PathEscape(rideID)+"/cancel", map[string]string{"reason": reason}, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, rideID, text string) (dispatch.ChatMessage, error) {
	var out dispatch.ChatMessage
	err := c.do(ctx, http.MethodPost, "/api/rides/"+url.PathEscape(rideID)+"/messages", map[string]string{"message": text}, &out)
	return out, err
}

// Stream is an open /ws session.
type Stream struct {
	conn *websocket.Conn
}

// Events dials /ws with the client's token.
func (c *Client) Events(ctx context.Context) (*Stream, error) {
	u, err := url.Parse(c.base + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial events: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Frame is one message from the server: a domain event or a command reply.
type Frame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Next blocks for the next frame.
func (s *Stream) Next() (Frame, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	f.Raw = msg
	return f, nil
}

// Event decodes the frame as a domain event.
func (f Frame) Event() (events.Event, error) {
	return events.Decode(f.Raw)
}

// Send writes a command frame such as update_location or ride_response.
func (s *Stream) Send(kind string, data any) error {
	return s.conn.WriteJSON(map[string]any{"type": kind, "data": data})
}

func (s *Stream) Close() error {
	return s.conn.Close()
}
