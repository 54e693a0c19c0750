package freebox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	// DefaultHost is the name the Freebox answers to on its own LAN.
	DefaultHost = "mafreebox.freebox.fr"
	// DefaultPort is the HTTPS port of the management API.
	DefaultPort = 443
	// DefaultAppID identifies fbxrules in the device's application list.
	DefaultAppID = "fr.freebox.fbxrules"

	authHeader         = "X-Fbx-App-Auth"
	fallbackAPIVersion = "8"
)

// Options configures a Client.
type Options struct {
	Host               string
	Port               int
	AppID              string
	AppToken           string
	CAFile             string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client talks to the Freebox management API. It holds no session state;
// sessions are obtained with Open and must be closed by the caller.
type Client struct {
	rest    *resty.Client
	baseURL string
	opts    Options
	logger  *zap.Logger
}

// NewClient creates a Client for the device described by opts.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.AppID == "" {
		opts.AppID = DefaultAppID
	}

	baseURL, err := BaseURL(opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}

	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		rest.SetTimeout(opts.Timeout)
	}
	if opts.InsecureSkipVerify {
		rest.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", opts.CAFile, err)
		}
		rest.SetRootCertificateFromString(string(pem))
	}

	return &Client{
		rest:    rest,
		baseURL: baseURL,
		opts:    opts,
		logger:  logger,
	}, nil
}

// BaseURL builds the root URL of the device from a host (optionally with a scheme) and a port.
// A port already present in host wins over the port argument.
func BaseURL(host string, port int) (string, error) {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	parsed, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid freebox url %q: %w", host, err)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("invalid freebox url %q: missing host", host)
	}
	if parsed.Port() == "" {
		parsed.Host = net.JoinHostPort(parsed.Hostname(), strconv.Itoa(port))
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// Address returns the host:port the client connects to.
func (c *Client) Address() string {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// call performs one request and unwraps the API envelope.
func call[T any](ctx context.Context, c *Client, method, path, token string, body any) (T, error) {
	var (
		zero T
		env  envelope[T]
	)
	op := method + " " + path

	req := c.rest.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env)
	if token != "" {
		req.SetHeader(authHeader, token)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return zero, &TransportError{Op: op, Err: err}
	}

	c.logger.Debug("freebox request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Bool("success", env.Success),
	)

	if !env.Success {
		if env.Msg == "" && env.ErrorCode == "" {
			return zero, &TransportError{
				Op:  op,
				Err: fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode(), truncate(resp.String(), 200)),
			}
		}
		apiErr := &APIError{
			Op:     op,
			Status: resp.StatusCode(),
			Code:   env.ErrorCode,
			Msg:    env.Msg,
		}
		// A lost session is a transport failure; the device reply stays in the chain.
		if sessionLost(env.ErrorCode) {
			apiErr.Op = ""
			return zero, &TransportError{Op: op, Err: apiErr}
		}
		return zero, apiErr
	}
	return env.Result, nil
}

// discover resolves the versioned API base path, e.g. /api/v8.
// Devices that do not answer /api_version get the fallback version.
func (c *Client) discover(ctx context.Context) string {
	var version apiVersion
	resp, err := c.rest.R().SetContext(ctx).SetResult(&version).Get("/api_version")
	if err != nil || resp.IsError() || version.APIVersion == "" {
		c.logger.Debug("api discovery failed, using fallback version",
			zap.String("fallback", fallbackAPIVersion),
			zap.Error(err),
		)
		return "/api/v" + fallbackAPIVersion
	}

	major, _, _ := strings.Cut(version.APIVersion, ".")
	base := version.APIBaseURL
	if base == "" {
		base = "/api/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	c.logger.Debug("discovered freebox api",
		zap.String("device", version.DeviceName),
		zap.String("api_version", version.APIVersion),
	)
	return base + "v" + major
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
