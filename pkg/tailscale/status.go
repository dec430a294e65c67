package tailscale

import (
	"encoding/json"
	"net/netip"
	"sort"
	"strings"
)

// BackendState is the connection lifecycle state reported by tailscaled.
type BackendState string

const (
	StateNoState    BackendState = "NoState"
	StateStopped    BackendState = "Stopped"
	StateStarting   BackendState = "Starting"
	StateRunning    BackendState = "Running"
	StateNeedsLogin BackendState = "NeedsLogin"
)

// Device is one node in the tailnet as reported by a status poll.
type Device struct {
	// ID is the stable node identifier the CLI expects for selection.
	ID string

	// DisplayName is the short hostname (DNS suffix stripped).
	DisplayName string

	// OS is the peer's reported operating system, empty when unknown.
	OS string

	// Online reports reachability; peers that omit the field are
	// assumed online, matching the tool's own display.
	Online bool

	// ExitNodeOption marks the peer as an exit-node candidate.
	ExitNodeOption bool

	// ActiveExitNode is derived from the snapshot's routing metadata:
	// true iff this peer is the current egress target.
	ActiveExitNode bool

	// IPv4 and IPv6 partition the peer's tailnet addresses by family.
	IPv4 []string
	IPv6 []string
}

// Addresses returns every tailnet address of the device, v4 first.
func (d *Device) Addresses() []string {
	out := make([]string, 0, len(d.IPv4)+len(d.IPv6))
	out = append(out, d.IPv4...)
	out = append(out, d.IPv6...)
	return out
}

// Snapshot is one immutable view of the tailnet, produced per poll.
// Collaborators receive it read-only; every poll builds a new one.
type Snapshot struct {
	BackendState BackendState
	Self         *Device
	Peers        []Device
}

// Connected reports whether the backend is running and the local node
// holds at least one tailnet address.
func (s *Snapshot) Connected() bool {
	return s.BackendState == StateRunning && s.Self != nil && len(s.Self.Addresses()) > 0
}

// ActiveExitNode returns the peer currently carrying egress traffic,
// or nil when no exit node is in use.
func (s *Snapshot) ActiveExitNode() *Device {
	for i := range s.Peers {
		if s.Peers[i].ActiveExitNode {
			return &s.Peers[i]
		}
	}
	return nil
}

// Raw wire shapes for `tailscale status --json`. Only the fields the
// model needs; everything else is ignored.
type rawStatus struct {
	BackendState   *string            `json:"BackendState"`
	Self           *rawPeer           `json:"Self"`
	Peer           map[string]rawPeer `json:"Peer"`
	ExitNodeStatus *rawExitNodeStatus `json:"ExitNodeStatus"`
}

type rawPeer struct {
	ID             string      `json:"ID"`
	DNSName        string      `json:"DNSName"`
	OS             string      `json:"OS"`
	TailscaleIPs   []string    `json:"TailscaleIPs"`
	Online         *bool       `json:"Online"`
	ExitNode       bool        `json:"ExitNode"`
	ExitNodeOption bool        `json:"ExitNodeOption"`
	HostInfo       rawHostInfo `json:"Hostinfo"`
}

type rawHostInfo struct {
	Hostname string `json:"Hostname"`
	OS       string `json:"OS"`
}

type rawExitNodeStatus struct {
	ID     string `json:"ID"`
	Online bool   `json:"Online"`
}

// ParseStatus converts raw `status --json` output into a Snapshot.
// Missing optional peer fields get per-field defaults; the whole
// snapshot fails only when the payload is not valid JSON or lacks the
// mandatory backend-state field.
func ParseStatus(raw []byte) (*Snapshot, error) {
	var st rawStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, &MalformedStatusError{Reason: "invalid JSON", Err: err}
	}
	if st.BackendState == nil || *st.BackendState == "" {
		return nil, &MalformedStatusError{Reason: "missing BackendState"}
	}

	snap := &Snapshot{BackendState: BackendState(*st.BackendState)}

	if st.Self != nil {
		self := parsePeer("self", *st.Self)
		snap.Self = &self
	}

	// Peer is a JSON object keyed by node public key; sort the keys so
	// peer order is stable across polls unless membership changes.
	keys := make([]string, 0, len(st.Peer))
	for k := range st.Peer {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		snap.Peers = append(snap.Peers, parsePeer(k, st.Peer[k]))
	}

	markActiveExitNode(snap, st.ExitNodeStatus)
	return snap, nil
}

// parsePeer maps one raw peer entry into the Device model, defaulting
// each missing optional field independently.
func parsePeer(key string, p rawPeer) Device {
	id := p.ID
	if id == "" {
		id = key
	}

	name := p.HostInfo.Hostname
	if name == "" {
		name = p.DNSName
	}
	if name == "" {
		name = id
	}

	osName := p.HostInfo.OS
	if osName == "" {
		osName = p.OS
	}

	d := Device{
		ID:             id,
		DisplayName:    shortHostname(name),
		OS:             osName,
		Online:         p.Online == nil || *p.Online,
		ExitNodeOption: p.ExitNodeOption,
		ActiveExitNode: p.ExitNode,
	}
	for _, addr := range p.TailscaleIPs {
		ip, err := netip.ParseAddr(addr)
		if err != nil {
			continue
		}
		if ip.Is4() {
			d.IPv4 = append(d.IPv4, addr)
		} else {
			d.IPv6 = append(d.IPv6, addr)
		}
	}
	return d
}

// markActiveExitNode derives the active flag from the self-routing
// metadata. The per-peer ExitNode bool parsed above is kept as a
// fallback for older tool versions that omit ExitNodeStatus.
func markActiveExitNode(snap *Snapshot, ens *rawExitNodeStatus) {
	if ens == nil || ens.ID == "" {
		return
	}
	for i := range snap.Peers {
		snap.Peers[i].ActiveExitNode = snap.Peers[i].ID == ens.ID
	}
	if snap.Self != nil {
		snap.Self.ActiveExitNode = snap.Self.ID == ens.ID
	}
}

// shortHostname strips the tailnet DNS suffix: "box.tail1234.ts.net"
// becomes "box".
func shortHostname(full string) string {
	full = strings.TrimSuffix(full, ".")
	if i := strings.IndexByte(full, '.'); i >= 0 {
		return full[:i]
	}
	return full
}
