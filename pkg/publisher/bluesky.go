package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-pkgz/lgr"
)

const defaultBlueskyHost = "https://bsky.social"

// BlueskyClient posts records through the Bluesky XRPC API. Authentication
// is lazy, the session is created on the first post and refreshed on 401.
type BlueskyClient struct {
	httpClient  *http.Client
	host        string
	handle      string
	appPassword string

	accessJWT string
	did       string
}

// BlueskyOption adjusts client construction
type BlueskyOption func(*BlueskyClient)

// WithHost overrides the XRPC host, used in tests
func WithHost(host string) BlueskyOption {
	return func(c *BlueskyClient) { c.host = host }
}

// NewBlueskyClient creates an XRPC client for the given account
func NewBlueskyClient(handle, appPassword string, opts ...BlueskyOption) *BlueskyClient {
	c := &BlueskyClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		host:        defaultBlueskyHost,
		handle:      handle,
		appPassword: appPassword,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionResponse struct {
	AccessJWT string `json:"accessJwt"`
	DID       string `json:"did"`
}

// authenticate creates a session and stores the access token
func (c *BlueskyClient) authenticate(ctx context.Context) error {
	if c.handle == "" || c.appPassword == "" {
		return fmt.Errorf("bluesky credentials not configured")
	}

	body, err := json.Marshal(createSessionRequest{Identifier: c.handle, Password: c.appPassword})
	if err != nil {
		return fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/xrpc/com.atproto.server.createSession", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("session call failed with status %d: %s", resp.StatusCode, string(data))
	}

	var session createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("decode session response: %w", err)
	}
	if session.AccessJWT == "" || session.DID == "" {
		return fmt.Errorf("session response missing token or did")
	}

	c.accessJWT = session.AccessJWT
	c.did = session.DID
	lgr.Printf("[INFO] authenticated with bluesky as %s", c.handle)
	return nil
}

// facetJSON is the wire form of a rich-text link facet
type facetJSON struct {
	Index struct {
		ByteStart int `json:"byteStart"`
		ByteEnd   int `json:"byteEnd"`
	} `json:"index"`
	Features []map[string]string `json:"features"`
}

type embedExternal struct {
	Type     string `json:"$type"`
	External struct {
		URI         string `json:"uri"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"external"`
}

type postRecord struct {
	Type      string         `json:"$type"`
	Text      string         `json:"text"`
	CreatedAt string         `json:"createdAt"`
	Facets    []facetJSON    `json:"facets,omitempty"`
	Embed     *embedExternal `json:"embed,omitempty"`
}

type createRecordRequest struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

// Post submits one post, authenticating first when no session exists. A
// failed embed never blocks the post, it falls back to plain text.
func (c *BlueskyClient) Post(ctx context.Context, post Post) error {
	if c.accessJWT == "" {
		if err := c.authenticate(ctx); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	record := postRecord{
		Type:      "app.bsky.feed.post",
		Text:      post.Text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	for _, f := range post.Facets {
		var fj facetJSON
		fj.Index.ByteStart = f.ByteStart
		fj.Index.ByteEnd = f.ByteEnd
		fj.Features = []map[string]string{{
			"$type": "app.bsky.richtext.facet#link",
			"uri":   f.URI,
		}}
		record.Facets = append(record.Facets, fj)
	}

	if post.LinkURL != "" {
		embed := &embedExternal{Type: "app.bsky.embed.external"}
		embed.External.URI = post.LinkURL
		embed.External.Title = post.Title
		embed.External.Description = post.Subtitle
		record.Embed = embed
	}

	if err := c.createRecord(ctx, record); err != nil {
		if record.Embed == nil {
			return err
		}
		lgr.Printf("[WARN] post with link card failed, retrying text-only: %v", err)
		record.Embed = nil
		return c.createRecord(ctx, record)
	}
	return nil
}

func (c *BlueskyClient) createRecord(ctx context.Context, record postRecord) error {
	err := c.submitRecord(ctx, record)
	if err == nil || !c.sessionExpired(err) {
		return err
	}

	// session expired, one re-auth attempt
	c.accessJWT = ""
	if authErr := c.authenticate(ctx); authErr != nil {
		return fmt.Errorf("re-authentication failed: %w", authErr)
	}
	return c.submitRecord(ctx, record)
}

type xrpcError struct {
	status int
	body   string
}

func (e *xrpcError) Error() string {
	return fmt.Sprintf("record call failed with status %d: %s", e.status, e.body)
}

func (c *BlueskyClient) sessionExpired(err error) bool {
	var xe *xrpcError
	return errors.As(err, &xe) && xe.status == http.StatusUnauthorized
}

func (c *BlueskyClient) submitRecord(ctx context.Context, record postRecord) error {
	body, err := json.Marshal(createRecordRequest{
		Repo:       c.did,
		Collection: "app.bsky.feed.post",
		Record:     record,
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/xrpc/com.atproto.repo.createRecord", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create record request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessJWT)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &xrpcError{status: resp.StatusCode, body: string(data)}
	}
	return nil
}
