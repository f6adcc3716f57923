package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	HandleLatency       = metric.NewHistogram("1m1s")
	TableSize           = metric.NewHistogram("1m10s")
	SentPacketPerSecond = metric.NewCounter("10s1s")
	RecvPacketPerSecond = metric.NewCounter("10s1s")
	SentBytesPerSecond  = metric.NewCounter("10s1s")
	RecvBytesPerSecond  = metric.NewCounter("10s1s")
	DroppedPerSecond    = metric.NewCounter("10s1s")
	TriggeredPerMinute  = metric.NewCounter("1h1m")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("ripd:SentPacket/s", SentPacketPerSecond)
	expvar.Publish("ripd:RecvPacket/s", RecvPacketPerSecond)
	expvar.Publish("ripd:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("ripd:RecvBytes/s", RecvBytesPerSecond)
	expvar.Publish("ripd:Dropped/s", DroppedPerSecond)
	expvar.Publish("ripd:TriggeredUpdates/m", TriggeredPerMinute)
	expvar.Publish("ripd:TableSize", TableSize)
	expvar.Publish("ripd:HandleLatency (µs)", HandleLatency)
}
