package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v69/github"
	"golang.org/x/sync/singleflight"
)

// clientSource hands out an authenticated SDK client for a repository.
type clientSource interface {
	client(ctx context.Context, owner, repo string) (*gogithub.Client, error)
	ping(ctx context.Context) error
}

// newSDKClient builds a go-github client. A non-empty baseURL selects a
// GitHub Enterprise endpoint.
func newSDKClient(httpClient *http.Client, baseURL string) (*gogithub.Client, error) {
	c := gogithub.NewClient(httpClient)
	if baseURL == "" {
		return c, nil
	}
	c, err := c.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("forge: base url %q: %w", baseURL, err)
	}
	return c, nil
}

type staticSource struct {
	c *gogithub.Client
}

func (s staticSource) client(context.Context, string, string) (*gogithub.Client, error) {
	return s.c, nil
}

func (s staticSource) ping(ctx context.Context) error {
	_, _, err := s.c.Users.Get(ctx, "")
	return err
}

// NewGitHubToken returns a provider authenticated with a personal access
// token. An empty baseURL means github.com.
func NewGitHubToken(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if token == "" {
		return nil, fmt.Errorf("forge: token is required")
	}
	c, err := newSDKClient(httpClient, baseURL)
	if err != nil {
		return nil, err
	}
	return &GitHub{
		clients: staticSource{c: c.WithAuthToken(token)},
		logger:  logger,
	}, nil
}

// appSource authenticates as a GitHub App and resolves the installation
// covering each repository on first use. Installation tokens are
// refreshed by the ghinstallation transport.
type appSource struct {
	apps      *ghinstallation.AppsTransport
	appClient *gogithub.Client
	timeout   time.Duration
	baseURL   string
	logger    *slog.Logger

	group         singleflight.Group
	mu            sync.Mutex
	installations map[string]int64
	clients       map[int64]*gogithub.Client
}

// NewGitHubApp returns a provider authenticated as a GitHub App. The
// private key is the PEM encoded key downloaded from the app settings.
func NewGitHubApp(httpClient *http.Client, appID int64, privateKey []byte, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	atr, err := ghinstallation.NewAppsTransport(base, appID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("forge: github app %d: %w", appID, err)
	}

	appClient, err := newSDKClient(&http.Client{Transport: atr, Timeout: httpClient.Timeout}, baseURL)
	if err != nil {
		return nil, err
	}
	atr.BaseURL = strings.TrimSuffix(appClient.BaseURL.String(), "/")

	return &GitHub{
		clients: &appSource{
			apps:          atr,
			appClient:     appClient,
			timeout:       httpClient.Timeout,
			baseURL:       baseURL,
			logger:        logger,
			installations: make(map[string]int64),
			clients:       make(map[int64]*gogithub.Client),
		},
		logger: logger,
	}, nil
}

// ping authenticates as the app itself, so it needs no installation.
func (s *appSource) ping(ctx context.Context) error {
	_, _, err := s.appClient.Apps.Get(ctx, "")
	return err
}

func (s *appSource) client(ctx context.Context, owner, repo string) (*gogithub.Client, error) {
	key := strings.ToLower(owner + "/" + repo)

	s.mu.Lock()
	id, ok := s.installations[key]
	if ok {
		c := s.clients[id]
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(key, func() (any, error) {
		inst, _, err := s.appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
		if err != nil {
			return nil, fmt.Errorf("forge: find installation for %s/%s: %w", owner, repo, err)
		}
		return inst.GetID(), nil
	})
	if err != nil {
		return nil, err
	}
	id = v.(int64)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.installations[key] = id
	if c, ok := s.clients[id]; ok {
		return c, nil
	}

	itr := ghinstallation.NewFromAppsTransport(s.apps, id)
	c, err := newSDKClient(&http.Client{Transport: itr, Timeout: s.timeout}, s.baseURL)
	if err != nil {
		return nil, err
	}
	s.clients[id] = c
	s.logger.Debug("github installation resolved", "repo", key, "installation_id", id)
	return c, nil
}
