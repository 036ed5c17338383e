package domain

// ServiceStatus is a summary of the running node.
type ServiceStatus struct {
	Mode          string `json:"mode"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Pools         int    `json:"pools"`
	OpenPools     int    `json:"open_pools"`
	KeeperEnabled bool   `json:"keeper_enabled"`
}
