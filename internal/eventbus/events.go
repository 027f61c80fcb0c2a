package eventbus

import "encoding/json"

// Channel names a category of events sharing one payload shape.
type Channel string

// Known channels.
const (
	ChannelSystemStatus   Channel = "system_status"
	ChannelThreatAlert    Channel = "threat_alert"
	ChannelAdminAlert     Channel = "admin_alert"
	ChannelIPQuarantined  Channel = "ip_quarantined"
	ChannelIncidentLogged Channel = "incident_logged"
	ChannelNetworkTraffic Channel = "network_traffic"
)

// ChannelAll subscribes a handler to every published event, including
// events on channels without a registered payload type. It is not a wire
// channel and is not listed by Channels.
const ChannelAll Channel = "*"

// Channels lists every known channel.
func Channels() []Channel {
	return []Channel{
		ChannelSystemStatus,
		ChannelThreatAlert,
		ChannelAdminAlert,
		ChannelIPQuarantined,
		ChannelIncidentLogged,
		ChannelNetworkTraffic,
	}
}

// Event is a channel payload.
type Event interface {
	Channel() Channel
}

// SystemStatus is the backend health summary.
type SystemStatus struct {
	Status                   string `json:"status"`
	LoggerContractConnection string `json:"logger_contract_connection"`
	ResponseEngineConnection string `json:"response_engine_connection"`
	DAOConnection            string `json:"dao_connection"`
	ActiveWSClients          int    `json:"active_ws_clients"`
}

// LayerOutput is the verdict of one detection layer.
type LayerOutput struct {
	Layer      string         `json:"layer"`
	Verdict    string         `json:"verdict,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	RuleID     string         `json:"rule_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// ThreatAlert is raised when the detection pipeline flags traffic.
type ThreatAlert struct {
	IncidentID   string        `json:"incident_id"`
	FinalVerdict string        `json:"final_verdict"`
	Confidence   float64       `json:"confidence"`
	SourceIP     string        `json:"source_ip"`
	AttackType   string        `json:"attack_type"`
	Explanation  string        `json:"explanation"`
	Timestamp    string        `json:"timestamp"`
	LayerOutputs []LayerOutput `json:"layer_outputs,omitempty"`
}

// AdminAlert is emitted by the response engine contract.
type AdminAlert struct {
	SourceIP  string `json:"source_ip"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// IPQuarantined is emitted when the response engine quarantines an address.
type IPQuarantined struct {
	IP              string `json:"ip"`
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// IncidentLogged is emitted once an incident is anchored on chain.
type IncidentLogged struct {
	Reporter    string `json:"reporter"`
	SourceIP    string `json:"source_ip"`
	Timestamp   string `json:"timestamp"`
	AttackType  string `json:"attack_type"`
	Explanation string `json:"explanation"`
	IPFSHash    string `json:"ipfs_hash"`
}

// NetworkTraffic is a periodic traffic sample.
type NetworkTraffic struct {
	PacketsPerSecond float64 `json:"packets_per_second"`
	BytesPerSecond   float64 `json:"bytes_per_second"`
	ActiveFlows      int     `json:"active_flows"`
	AnomalyScore     float64 `json:"anomaly_score"`
	Timestamp        string  `json:"timestamp"`
}

// Unknown carries a frame whose channel has no registered payload type.
type Unknown struct {
	Name Channel
	Data json.RawMessage
}

func (SystemStatus) Channel() Channel   { return ChannelSystemStatus }
func (ThreatAlert) Channel() Channel    { return ChannelThreatAlert }
func (AdminAlert) Channel() Channel     { return ChannelAdminAlert }
func (IPQuarantined) Channel() Channel  { return ChannelIPQuarantined }
func (IncidentLogged) Channel() Channel { return ChannelIncidentLogged }
func (NetworkTraffic) Channel() Channel { return ChannelNetworkTraffic }
func (u Unknown) Channel() Channel      { return u.Name }
