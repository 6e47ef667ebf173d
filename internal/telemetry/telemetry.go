// Package telemetry writes settlement and scan metrics to InfluxDB. The
// teacher's market service carries an unused INFLUXDB_* configuration
// surface for exactly this purpose; this package is the implementation
// that surface was missing.
package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Recorder writes matching-core metrics to an InfluxDB bucket.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	org      string
}

// New connects to InfluxDB at url with the given auth token and returns a
// Recorder scoped to org/bucket. The underlying client batches writes
// asynchronously; call Close to flush on shutdown.
func New(url, token, org, bucket string) *Recorder {
	client := influxdb2.NewClient(url, token)
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
		bucket:   bucket,
		org:      org,
	}
}

// Close flushes pending writes and releases the client.
func (r *Recorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
}

// Errors exposes the write API's async error channel so a caller can log
// delivery failures without blocking the writing goroutine.
func (r *Recorder) Errors() <-chan error {
	return r.writeAPI.Errors()
}

// ScanResult records the outcome of one scan_and_match cycle for a pair.
type ScanResult struct {
	PairID          uint64
	CandidatesSeen  int
	ProposalsSent   int
	ScanDuration    time.Duration
}

// RecordScan writes one scan_and_match cycle as a point in the
// "core_scan" measurement.
func (r *Recorder) RecordScan(res ScanResult) {
	p := influxdb2.NewPointWithMeasurement("core_scan").
		AddTag("pair_id", fmt.Sprintf("%d", res.PairID)).
		AddField("candidates_seen", res.CandidatesSeen).
		AddField("proposals_sent", res.ProposalsSent).
		AddField("duration_ms", res.ScanDuration.Milliseconds()).
		SetTime(time.Now())
	r.writeAPI.WritePoint(p)
}

// SettlementOutcome records the outcome of one settlement attempt.
type SettlementOutcome struct {
	PairID    uint64
	FillQty   uint64
	ExecPrice uint64
	Result    string // "committed", "nacked", "suppressed"
}

// RecordSettlement writes one settlement attempt as a point in the
// "core_settlement" measurement.
func (r *Recorder) RecordSettlement(out SettlementOutcome) {
	p := influxdb2.NewPointWithMeasurement("core_settlement").
		AddTag("pair_id", fmt.Sprintf("%d", out.PairID)).
		AddTag("result", out.Result).
		AddField("fill_qty", out.FillQty).
		AddField("exec_price", out.ExecPrice).
		SetTime(time.Now())
	r.writeAPI.WritePoint(p)
}

// RecordEscrowDesync marks a pair's escrow ledger entering or leaving a
// desynced state, so dashboards can alert on prolonged desync windows.
func (r *Recorder) RecordEscrowDesync(ctx context.Context, owner string, tokenID uint64, desynced bool) {
	p := influxdb2.NewPointWithMeasurement("core_escrow_desync").
		AddTag("owner", owner).
		AddTag("token_id", fmt.Sprintf("%d", tokenID)).
		AddField("desynced", desynced).
		SetTime(time.Now())
	r.writeAPI.WritePoint(p)
}
