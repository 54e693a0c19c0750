package apply

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/easzlab/fbxrules/pkg/reconcile"
	"github.com/easzlab/fbxrules/pkg/rules"
	"gopkg.in/yaml.v3"
)

// Output formats understood by Render.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// LeaseResult is what a DHCP invocation reports.
type LeaseResult struct {
	Changed         bool   `json:"changed"           yaml:"changed"`
	Failed          bool   `json:"failed"            yaml:"failed"`
	Outcome         string `json:"outcome"           yaml:"outcome"`
	Message         string `json:"message"           yaml:"message"`
	OriginalMessage string `json:"original_message"  yaml:"original_message"`
	MACAddress      string `json:"mac_address"       yaml:"mac_address"`
	IPAddress       string `json:"ip_address"        yaml:"ip_address"`
	Comment         string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// NatResult is what a NAT invocation reports. Input fields are echoed under their input names.
type NatResult struct {
	Changed         bool   `json:"changed"          yaml:"changed"`
	Failed          bool   `json:"failed"           yaml:"failed"`
	Outcome         string `json:"outcome"          yaml:"outcome"`
	Message         string `json:"message"          yaml:"message"`
	OriginalMessage string `json:"original_message" yaml:"original_message"`
	LanIP           string `json:"lan_ip"           yaml:"lan_ip"`
	LanPort         int    `json:"lan_port"         yaml:"lan_port"`
	WanPortStart    int    `json:"wan_port_start"   yaml:"wan_port_start"`
	WanPortEnd      int    `json:"wan_port_end"     yaml:"wan_port_end"`
	IPProto         string `json:"ip_proto"         yaml:"ip_proto"`
	SrcIP           string `json:"src_ip"           yaml:"src_ip"`
	Enabled         bool   `json:"enabled"          yaml:"enabled"`
	Comment         string `json:"comment"          yaml:"comment"`
}

// Summary is the report of a config-driven pass.
type Summary struct {
	RunID        string        `json:"run_id"        yaml:"run_id"`
	Changed      bool          `json:"changed"       yaml:"changed"`
	Failed       bool          `json:"failed"        yaml:"failed"`
	Created      int           `json:"created"       yaml:"created"`
	Unchanged    int           `json:"unchanged"     yaml:"unchanged"`
	Errors       int           `json:"errors"        yaml:"errors"`
	DHCPLeases   []LeaseResult `json:"dhcp_leases"   yaml:"dhcp_leases"`
	PortForwards []NatResult   `json:"port_forwards" yaml:"port_forwards"`
}

func (s *Summary) count(outcome reconcile.Outcome) {
	switch outcome {
	case reconcile.Created, reconcile.Updated:
		s.Created++
		s.Changed = true
	case reconcile.Unchanged:
		s.Unchanged++
	default:
		s.Errors++
		s.Failed = true
	}
}

func newLeaseResult(rule rules.DhcpLeaseRule, outcome reconcile.Outcome, err error) LeaseResult {
	result := LeaseResult{
		Changed:         outcome.Changed(),
		Outcome:         outcome.String(),
		OriginalMessage: originalMessage(rule),
		MACAddress:      rule.MAC,
		IPAddress:       rule.IP,
		Comment:         rule.Comment,
	}
	if err != nil {
		result.Failed = true
		result.Message = err.Error()
		return result
	}
	result.Message = fmt.Sprintf("Static DHCP configured for MAC %s with IP %s", rule.MAC, rule.IP)
	return result
}

func newNatResult(rule rules.NatRule, outcome reconcile.Outcome, err error) NatResult {
	result := NatResult{
		Changed:         outcome.Changed(),
		Outcome:         outcome.String(),
		OriginalMessage: originalMessage(rule),
		LanIP:           rule.LanIP,
		LanPort:         rule.LanPort,
		WanPortStart:    rule.WanPortStart,
		WanPortEnd:      rule.WanPortEnd,
		IPProto:         rule.IPProto,
		SrcIP:           rule.GetSrcIP(),
		Enabled:         rule.IsEnabled(),
		Comment:         rule.Comment,
	}
	if err != nil {
		result.Failed = true
		result.Message = err.Error()
		return result
	}
	result.Message = fmt.Sprintf("NAT rule configured for %s from external port %d to internal %s:%d",
		rule.IPProto, rule.WanPortStart, rule.LanIP, rule.LanPort)
	return result
}

// originalMessage echoes the requested rule as compact JSON.
func originalMessage(rule any) string {
	raw, err := json.Marshal(rule)
	if err != nil {
		return ""
	}
	return string(raw)
}

// ValidateFormat rejects output formats Render does not support.
func ValidateFormat(format string) error {
	switch format {
	case "", FormatJSON, FormatYAML:
		return nil
	default:
		return ValidateFormat(format)
	}
}

// LeaseFailure reports a lease invocation that failed before a session could be opened.
func LeaseFailure(rule rules.DhcpLeaseRule, err error) (*LeaseResult, error) {
	err = fmt.Errorf("Error configuring DHCP: %w", err)
	result := newLeaseResult(rule, reconcile.Failed, err)
	return &result, err
}

// PortForwardFailure is LeaseFailure for port forwarding rules.
func PortForwardFailure(rule rules.NatRule, err error) (*NatResult, error) {
	err = fmt.Errorf("Error configuring NAT: %w", err)
	result := newNatResult(rule, reconcile.Failed, err)
	return &result, err
}

// Render writes v to w in the requested format.
func Render(w io.Writer, format string, v any) error {
	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return ValidateFormat(format)
	}
}
