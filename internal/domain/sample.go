package domain

// NodeSample is one parsed report from a render node.
type NodeSample struct {
	Name       string
	CPUPercent float64
	GPUPercent float64
	MemMB      int64
	ActiveApp  string
}

// Reachability is the result of a single ping to a host. LatencyMs is nil
// when the host did not answer.
type Reachability struct {
	Address   string   `json:"address,omitempty"`
	Reachable bool     `json:"reachable"`
	LatencyMs *float64 `json:"latencyMs"`
}

// Host is a named address probed for reachability.
type Host struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
}

// DiskUsage is the published usage of one mount point. All numeric fields
// are nil when the mount could not be sampled.
type DiskUsage struct {
	TotalGB     *float64 `json:"totalGb"`
	UsedGB      *float64 `json:"usedGb"`
	UsedPercent *float64 `json:"usedPercent"`
	Filesystem  string   `json:"filesystem,omitempty"`
	DriveType   string   `json:"driveType,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// Available reports whether the mount was sampled successfully.
func (d DiskUsage) Available() bool {
	return d.TotalGB != nil
}

// Clone returns a copy that shares no pointers with d.
func (d DiskUsage) Clone() DiskUsage {
	out := d
	out.TotalGB = cloneFloat(d.TotalGB)
	out.UsedGB = cloneFloat(d.UsedGB)
	out.UsedPercent = cloneFloat(d.UsedPercent)
	return out
}

// Clone returns a copy that shares no pointers with r.
func (r Reachability) Clone() Reachability {
	out := r
	out.LatencyMs = cloneFloat(r.LatencyMs)
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
