package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Room is a provider-side room handle.
type Room struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RoomOptions controls how a room is provisioned.
type RoomOptions struct {
	MaxParticipants int
	Expiry          int64 // unix seconds after which the provider tears the room down
}

// RoomProvider abstracts the external video room service. All calls are
// fallible and the provider's room set can drift from our session set; the
// reconciliation job repairs that drift.
type RoomProvider interface {
	CreateRoom(ctx context.Context, name string, opts RoomOptions) (*Room, error)
	DeleteRoom(ctx context.Context, name string) error
	ListRooms(ctx context.Context) ([]Room, error)
}

// DailyClient talks to the Daily.co REST API.
type DailyClient struct {
	http   *http.Client
	apiKey string
	base   string
}

// NewDailyClient creates a Daily API client. base may be empty to use the
// public API endpoint.
func NewDailyClient(apiKey, base string) *DailyClient {
	if base == "" {
		base = "https://api.daily.co/v1"
	}
	return &DailyClient{
		http:   &http.Client{},
		apiKey: apiKey,
		base:   base,
	}
}

func (c *DailyClient) CreateRoom(ctx context.Context, name string, opts RoomOptions) (*Room, error) {
	props := map[string]any{
		"eject_at_room_exp": true,
	}
	if opts.MaxParticipants > 0 {
		props["max_participants"] = opts.MaxParticipants
	}
	if opts.Expiry > 0 {
		props["exp"] = opts.Expiry
	}
	body := map[string]any{
		"name":       name,
		"privacy":    "private",
		"properties": props,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.base+"/rooms", &buf)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("daily CreateRoom: %s: %s", resp.Status, string(b))
	}

	var room Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *DailyClient) DeleteRoom(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.base+"/rooms/"+name, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// A room already gone is not an error for our callers.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daily DeleteRoom: %s: %s", resp.Status, string(b))
	}
	return nil
}

func (c *DailyClient) ListRooms(ctx context.Context) ([]Room, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.base+"/rooms?limit=100", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("daily ListRooms: %s: %s", resp.Status, string(b))
	}

	var parsed struct {
		Data []Room `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Data, nil
}

func (c *DailyClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}
