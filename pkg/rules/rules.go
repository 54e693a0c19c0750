package rules

import (
	"fmt"
	"strings"

	"github.com/easzlab/fbxrules/pkg/freebox"
)

// Supported port forwarding protocols.
const (
	ProtoTCP = "tcp"
	ProtoUDP = "udp"
)

// DefaultSrcIP is the wildcard source address of a port forwarding rule.
const DefaultSrcIP = "0.0.0.0"

// DhcpLeaseRule is a desired static DHCP lease.
// Only MAC is part of the identity; a lease for the same MAC with another IP counts as present.
type DhcpLeaseRule struct {
	MAC     string `json:"mac"               yaml:"mac"               mapstructure:"mac"     validate:"required,mac"`
	IP      string `json:"ip"                yaml:"ip"                mapstructure:"ip"      validate:"required,ip"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty" mapstructure:"comment"`
}

// CanonicalMAC returns the MAC in its upper-case comparison form.
func CanonicalMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}

// String returns a human-readable representation of the lease.
func (r DhcpLeaseRule) String() string {
	return fmt.Sprintf("%s -> %s", r.MAC, r.IP)
}

// ToStaticLease converts the rule into the record submitted to the device.
func (r DhcpLeaseRule) ToStaticLease() freebox.StaticLease {
	return freebox.StaticLease{
		MAC:     r.MAC,
		IP:      r.IP,
		Comment: r.Comment,
	}
}

// NatRule is a desired port forwarding rule.
// Identity is (LanIP, LanPort, WanPortStart, WanPortEnd, IPProto); SrcIP, Enabled and Comment are not.
type NatRule struct {
	LanIP        string `json:"lan_ip"         yaml:"lan_ip"         mapstructure:"lan_ip"         validate:"required,ip"`
	LanPort      int    `json:"lan_port"       yaml:"lan_port"       mapstructure:"lan_port"       validate:"required,min=1,max=65535"`
	WanPortStart int    `json:"wan_port_start" yaml:"wan_port_start" mapstructure:"wan_port_start" validate:"required,min=1,max=65535"`
	WanPortEnd   int    `json:"wan_port_end"   yaml:"wan_port_end"   mapstructure:"wan_port_end"   validate:"required,min=1,max=65535,gtefield=WanPortStart"`
	IPProto      string `json:"ip_proto"       yaml:"ip_proto"       mapstructure:"ip_proto"       validate:"required,ip_proto"`
	SrcIP        string `json:"src_ip"         yaml:"src_ip"         mapstructure:"src_ip"         validate:"omitempty,ip"`
	Enabled      *bool  `json:"enabled"        yaml:"enabled"        mapstructure:"enabled"        validate:"required"`
	Comment      string `json:"comment"        yaml:"comment"        mapstructure:"comment"`
}

// Key identifies the rule for matching and duplicate detection.
type Key struct {
	LanIP        string
	LanPort      int
	WanPortStart int
	WanPortEnd   int
	IPProto      string
}

// String returns a human-readable representation of the Key.
func (k Key) String() string {
	if k.WanPortStart == k.WanPortEnd {
		return fmt.Sprintf("%s/%d -> %s:%d", k.IPProto, k.WanPortStart, k.LanIP, k.LanPort)
	}
	return fmt.Sprintf("%s/%d-%d -> %s:%d", k.IPProto, k.WanPortStart, k.WanPortEnd, k.LanIP, k.LanPort)
}

// Key returns the identity tuple of the rule with the protocol lower-cased.
func (r NatRule) Key() Key {
	return Key{
		LanIP:        r.LanIP,
		LanPort:      r.LanPort,
		WanPortStart: r.WanPortStart,
		WanPortEnd:   r.WanPortEnd,
		IPProto:      strings.ToLower(r.IPProto),
	}
}

// KeyFromPortForward returns the identity tuple of a device record.
func KeyFromPortForward(redir freebox.PortForward) Key {
	return Key{
		LanIP:        redir.LanIP,
		LanPort:      redir.LanPort,
		WanPortStart: redir.WanPortStart,
		WanPortEnd:   redir.WanPortEnd,
		IPProto:      strings.ToLower(redir.IPProto),
	}
}

// IsEnabled reports the desired enabled state. Callers validate first; nil reads as false.
func (r NatRule) IsEnabled() bool {
	return r.Enabled != nil && *r.Enabled
}

// GetSrcIP returns the source address filter, defaulting to the wildcard.
func (r NatRule) GetSrcIP() string {
	if r.SrcIP == "" {
		return DefaultSrcIP
	}
	return r.SrcIP
}

// ToPortForward converts the rule into the record submitted to the device.
// The device only knows lower-case protocol names.
func (r NatRule) ToPortForward() freebox.PortForward {
	enabled := r.IsEnabled()
	return freebox.PortForward{
		Enabled:      &enabled,
		Comment:      r.Comment,
		LanPort:      r.LanPort,
		WanPortStart: r.WanPortStart,
		WanPortEnd:   r.WanPortEnd,
		LanIP:        r.LanIP,
		IPProto:      strings.ToLower(r.IPProto),
		SrcIP:        r.GetSrcIP(),
	}
}
