package freebox

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrMissingAppToken is returned by Open when no app token is configured.
var ErrMissingAppToken = errors.New("freebox app token is not configured (run `fbxrules authorize`)")

// Session is an authenticated handle to the device. It is not safe for concurrent use
// and must be closed on every exit path.
type Session struct {
	client *Client
	base   string
	token  string
	closed bool
}

// Open discovers the API, answers the login challenge with the app token and
// returns an authenticated Session.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	if c.opts.AppToken == "" {
		return nil, ErrMissingAppToken
	}

	base := c.discover(ctx)

	challenge, err := call[loginChallenge](ctx, c, http.MethodGet, base+"/login/", "", nil)
	if err != nil {
		return nil, err
	}

	result, err := call[sessionResult](ctx, c, http.MethodPost, base+"/login/session/", "", sessionRequest{
		AppID:    c.opts.AppID,
		Password: password(c.opts.AppToken, challenge.Challenge),
	})
	if err != nil {
		return nil, err
	}
	if result.SessionToken == "" {
		return nil, &APIError{Op: http.MethodPost + " " + base + "/login/session/", Msg: "device returned an empty session token"}
	}

	if !result.Permissions["settings"] {
		c.logger.Warn("app has no settings permission, rule creation will be rejected",
			zap.String("app_id", c.opts.AppID),
		)
	}

	c.logger.Debug("freebox session opened", zap.String("base", base))
	return &Session{
		client: c,
		base:   base,
		token:  result.SessionToken,
	}, nil
}

// password answers a login challenge: hex(HMAC-SHA1(app_token, challenge)).
func password(appToken, challenge string) string {
	mac := hmac.New(sha1.New, []byte(appToken))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// Close logs the session out. Calling Close more than once is a no-op.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	_, err := call[struct{}](ctx, s.client, http.MethodPost, s.base+"/login/logout/", s.token, nil)
	if err != nil {
		return err
	}
	s.client.logger.Debug("freebox session closed")
	return nil
}

// ListStaticLeases returns every static DHCP lease configured on the device.
func (s *Session) ListStaticLeases(ctx context.Context) ([]StaticLease, error) {
	leases, err := call[[]StaticLease](ctx, s.client, http.MethodGet, s.base+"/dhcp/static_lease/", s.token, nil)
	if err != nil {
		return nil, err
	}
	if leases == nil {
		leases = []StaticLease{}
	}
	return leases, nil
}

// CreateStaticLease submits one static lease. The returned record is nil when the
// device acknowledged the request without echoing a lease.
func (s *Session) CreateStaticLease(ctx context.Context, lease StaticLease) (*StaticLease, error) {
	return call[*StaticLease](ctx, s.client, http.MethodPost, s.base+"/dhcp/static_lease/", s.token, lease)
}

// ListPortForwards returns every port forwarding rule configured on the device.
func (s *Session) ListPortForwards(ctx context.Context) ([]PortForward, error) {
	redirs, err := call[[]PortForward](ctx, s.client, http.MethodGet, s.base+"/fw/redir/", s.token, nil)
	if err != nil {
		return nil, err
	}
	if redirs == nil {
		redirs = []PortForward{}
	}
	return redirs, nil
}

// CreatePortForward submits one port forwarding rule.
func (s *Session) CreatePortForward(ctx context.Context, redir PortForward) (*PortForward, error) {
	return call[*PortForward](ctx, s.client, http.MethodPost, s.base+"/fw/redir/", s.token, redir)
}
