package params

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/gitbot/internal/httpkit"
)

// Extension reads parameters from a local parameters-and-secrets
// extension (for example the AWS one listening on localhost:2773).
type Extension struct {
	baseURL     string
	prefix      string
	token       string
	tokenHeader string
	client      *http.Client
	logger      *slog.Logger
}

// ExtensionOptions configures an Extension source.
type ExtensionOptions struct {
	// BaseURL is the extension root, e.g. http://localhost:2773.
	BaseURL string

	// Prefix is joined to every name with a slash.
	Prefix string

	// Token is sent in TokenHeader on every request.
	Token       string
	TokenHeader string
}

// NewExtension returns an Extension source. A nil client gets the
// shared httpkit defaults with a short retry for a cold extension.
func NewExtension(opts ExtensionOptions, client *http.Client, logger *slog.Logger) *Extension {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithRetry(2, 200*time.Millisecond), httpkit.WithLogger(logger))
	}
	header := opts.TokenHeader
	if header == "" {
		header = "X-Aws-Parameters-Secrets-Token"
	}
	return &Extension{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		prefix:      strings.TrimRight(opts.Prefix, "/"),
		token:       opts.Token,
		tokenHeader: header,
		client:      client,
		logger:      logger,
	}
}

type getParameterResponse struct {
	Parameter *struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	} `json:"Parameter"`
}

// FullName returns the prefixed name sent to the extension.
func (e *Extension) FullName(name string) string {
	return e.prefix + "/" + name
}

// Get implements Source.
func (e *Extension) Get(ctx context.Context, name string) (string, error) {
	q := url.Values{}
	q.Set("name", e.FullName(name))
	q.Set("withDecryption", "true")
	u := e.baseURL + "/systemsmanager/parameters/get?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build parameter request: %w", err)
	}
	req.Header.Set(e.tokenHeader, e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, 1024)
		return "", &Error{Name: name, Status: resp.StatusCode, Body: body}
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	var out getParameterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode parameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", nil
	}

	e.logger.Debug("parameter resolved", "name", name, "source", "extension")
	return out.Parameter.Value, nil
}
