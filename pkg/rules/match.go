package rules

import "github.com/easzlab/fbxrules/pkg/freebox"

// LeaseExists reports whether a lease for the rule's MAC is already configured.
// MACs are compared case-insensitively; the IP is deliberately not compared.
func LeaseExists(rule DhcpLeaseRule, leases []freebox.StaticLease) bool {
	mac := CanonicalMAC(rule.MAC)
	for _, lease := range leases {
		if CanonicalMAC(lease.MAC) == mac {
			return true
		}
	}
	return false
}

// PortForwardExists reports whether a port forwarding rule with the same identity
// tuple is already configured. SrcIP, Enabled and Comment are not compared.
func PortForwardExists(rule NatRule, redirs []freebox.PortForward) bool {
	key := rule.Key()
	for _, redir := range redirs {
		if KeyFromPortForward(redir) == key {
			return true
		}
	}
	return false
}
