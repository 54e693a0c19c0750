package freebox

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Authorization states reported by the device while the user answers on the front panel.
const (
	AuthStatusUnknown = "unknown"
	AuthStatusPending = "pending"
	AuthStatusTimeout = "timeout"
	AuthStatusGranted = "granted"
	AuthStatusDenied  = "denied"
)

// Authorize asks the device for a new app token and waits until the request is
// granted on the device's front panel. The token is only usable once granted.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest, pollInterval time.Duration) (string, error) {
	if req.AppID == "" {
		req.AppID = c.opts.AppID
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	base := c.discover(ctx)

	result, err := call[authorizeResult](ctx, c, http.MethodPost, base+"/login/authorize/", "", req)
	if err != nil {
		return "", err
	}
	if result.AppToken == "" {
		return "", &APIError{Op: http.MethodPost + " " + base + "/login/authorize/", Msg: "device returned an empty app token"}
	}

	c.logger.Info("authorization requested, confirm it on the freebox front panel",
		zap.String("app_id", req.AppID),
		zap.Int("track_id", result.TrackID),
	)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	trackPath := fmt.Sprintf("%s/login/authorize/%d", base, result.TrackID)
	for {
		status, err := call[authorizeStatus](ctx, c, http.MethodGet, trackPath, "", nil)
		if err != nil {
			return "", err
		}

		switch status.Status {
		case AuthStatusGranted:
			return result.AppToken, nil
		case AuthStatusDenied, AuthStatusTimeout:
			return "", fmt.Errorf("authorization %s on the device", status.Status)
		case AuthStatusUnknown:
			return "", fmt.Errorf("authorization request %d is unknown to the device", result.TrackID)
		case AuthStatusPending:
		default:
			return "", fmt.Errorf("unexpected authorization status %q", status.Status)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
