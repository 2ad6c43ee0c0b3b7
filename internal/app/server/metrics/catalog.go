package metrics

const (
	HTTPRequestsTotal    = "http_requests_total"
	IncomingTrafficBytes = "incoming_traffic_bytes"
	OutgoingTrafficBytes = "outgoing_traffic_bytes"
	DiskUsagePercent     = "disk_usage_percent"
	HeapUsedBytes        = "process_heap_used_bytes"
	HeapTotalBytes       = "process_heap_total_bytes"
	FaultsInjectedTotal  = "faults_injected_total"
	LogEventsPublished   = "log_events_published_total"
	LogEventsDropped     = "log_events_dropped_total"
)

// ServerDefinitions lists every metric the server registers at startup.
var ServerDefinitions = []Definition{
	{Name: HTTPRequestsTotal, Help: "Total number of HTTP requests", Kind: Counter, Labels: []string{"method", "route"}},
	{Name: IncomingTrafficBytes, Help: "Total incoming traffic in bytes", Kind: Counter},
	{Name: OutgoingTrafficBytes, Help: "Total outgoing traffic in bytes", Kind: Counter},
	{Name: DiskUsagePercent, Help: "Used share of the filesystem in percent", Kind: Gauge, Labels: []string{"filesystem"}},
	{Name: HeapUsedBytes, Help: "Amount of heap used by the process in bytes.", Kind: Gauge},
	{Name: HeapTotalBytes, Help: "Total size of the heap in bytes.", Kind: Gauge},
	{Name: FaultsInjectedTotal, Help: "Total number of simulated faults injected, labeled by scenario.", Kind: Counter, Labels: []string{"scenario"}},
	{Name: LogEventsPublished, Help: "Events delivered to the pub/sub transport.", Kind: Counter, Labels: []string{"event"}},
	{Name: LogEventsDropped, Help: "Events that could not be delivered.", Kind: Counter, Labels: []string{"reason"}},
}

// RegisterServerMetrics registers ServerDefinitions on r.
func RegisterServerMetrics(r *Registry) error {
	for _, def := range ServerDefinitions {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
