// Package hss is the subscriber-data client: it fetches IFC documents
// and registration state from the Home Subscriber Server over HTTP
// and hands back the parsed shape from package ifc.
package hss

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sebas/cscf/internal/cscf/ifc"
)

// RequestType is the reason a registration-state update is requested.
type RequestType string

const (
	RequestTypeReg         RequestType = "REG"
	RequestTypeCall        RequestType = "CALL"
	RequestTypeDeregAdmin  RequestType = "DEREG_ADMIN"
	RequestTypeDeregUser   RequestType = "DEREG_USER"
	RequestTypeDeregTimeout RequestType = "DEREG_TIMEOUT"
)

// RegData is the shape returned by both get_registration_data and
// update_registration_state.
type RegData struct {
	RegState       string
	IfcsByPublicID map[string]ifc.Ifcs
	AssociatedURIs []string
}

// ErrNotFound is returned when the HSS responds 404 for a public
// identity it has no record of.
var ErrNotFound = errors.New("hss: subscriber not found")

// Client is the HSS interface the core consumes.
type Client interface {
	GetRegistrationData(ctx context.Context, publicID string) (RegData, error)
	UpdateRegistrationState(ctx context.Context, publicID, privateID string, reqType RequestType) (RegData, error)
}

// HTTPClient is the production Client, talking to the Clearwater
// Homestead-style HSS-facing REST interface. No REST client library
// appears anywhere in the example corpus, so this is built directly on
// net/http (see DESIGN.md).
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient builds an HTTPClient with sane defaults.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPClient) GetRegistrationData(ctx context.Context, publicID string) (RegData, error) {
	u := fmt.Sprintf("%s/impu/%s/reg-data", c.BaseURL, url.PathEscape(publicID))
	return c.fetch(ctx, http.MethodGet, u, nil)
}

func (c *HTTPClient) UpdateRegistrationState(ctx context.Context, publicID, privateID string, reqType RequestType) (RegData, error) {
	body, err := json.Marshal(map[string]string{
		"reqtype":  string(reqType),
		"impi":     privateID,
	})
	if err != nil {
		return RegData{}, err
	}
	u := fmt.Sprintf("%s/impu/%s/reg-data", c.BaseURL, url.PathEscape(publicID))
	return c.fetch(ctx, http.MethodPut, u, body)
}

func (c *HTTPClient) fetch(ctx context.Context, method, u string, body []byte) (RegData, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return RegData{}, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return RegData{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return RegData{}, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return RegData{}, fmt.Errorf("hss: unexpected status %d", resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return RegData{}, err
	}

	doc, err := ifc.ParseIfcs(buf.Bytes())
	if err != nil {
		return RegData{}, err
	}

	return RegData{
		RegState:       doc.RegistrationState,
		IfcsByPublicID: doc.ByPublicID,
		AssociatedURIs: doc.AssociatedURIs,
	}, nil
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}
