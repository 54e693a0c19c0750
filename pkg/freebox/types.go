package freebox

// envelope is the common wrapper of every Freebox API reply.
type envelope[T any] struct {
	Success   bool   `json:"success"`
	Result    T      `json:"result"`
	Msg       string `json:"msg,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// StaticLease is a static DHCP lease as stored on the device.
type StaticLease struct {
	ID       string `json:"id,omitempty"`
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Comment  string `json:"comment,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

// PortForward is a port forwarding (fw/redir) rule as stored on the device.
// Enabled is a pointer so that an absent field can be told apart from false.
type PortForward struct {
	ID           int    `json:"id,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
	Comment      string `json:"comment"`
	LanPort      int    `json:"lan_port"`
	WanPortStart int    `json:"wan_port_start"`
	WanPortEnd   int    `json:"wan_port_end"`
	LanIP        string `json:"lan_ip"`
	IPProto      string `json:"ip_proto"`
	SrcIP        string `json:"src_ip"`
	Hostname     string `json:"hostname,omitempty"`
}

type apiVersion struct {
	UID        string `json:"uid"`
	DeviceName string `json:"device_name"`
	APIVersion string `json:"api_version"`
	APIBaseURL string `json:"api_base_url"`
	DeviceType string `json:"device_type"`
}

type loginChallenge struct {
	LoggedIn  bool   `json:"logged_in"`
	Challenge string `json:"challenge"`
}

type sessionRequest struct {
	AppID    string `json:"app_id"`
	Password string `json:"password"`
}

type sessionResult struct {
	SessionToken string          `json:"session_token"`
	Challenge    string          `json:"challenge"`
	Permissions  map[string]bool `json:"permissions"`
}

// AuthorizeRequest describes the application asking the device for an app token.
type AuthorizeRequest struct {
	AppID      string `json:"app_id"`
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	DeviceName string `json:"device_name"`
}

type authorizeResult struct {
	AppToken string `json:"app_token"`
	TrackID  int    `json:"track_id"`
}

type authorizeStatus struct {
	Status    string `json:"status"`
	Challenge string `json:"challenge"`
}
