package metrics

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	lp "github.com/influxdata/line-protocol"

	"domator-go/internal/protocol"
	"domator-go/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lines encodes points the way the client's write service does.
func lines(t *testing.T, points ...*write.Point) []string {
	t.Helper()
	var out []string
	for _, p := range points {
		var buf bytes.Buffer
		enc := lp.NewEncoder(&buf)
		enc.SetFieldTypeSupport(lp.UintSupport)
		enc.FailOnFieldErr(true)
		enc.SetPrecision(time.Second)
		if _, err := enc.Encode(p); err != nil {
			t.Fatalf("encode %s: %v", p.Name(), err)
		}
		out = append(out, strings.TrimSuffix(buf.String(), "\n"))
	}
	return out
}

func TestNodePoints(t *testing.T) {
	heap := int64(120000)
	r := NodeReport{
		ID: 1074130365, Name: "brave otter", Kind: store.KindRelay,
		ParentID: 99, ParentName: "root", Firmware: "a1b2", Online: true,
		Uptime: 3600, Clicks: 4, Disconnects: 1, RSSI: -61, FreeHeap: &heap,
		LastSeen: time.Unix(1700000000, 0),
	}
	got := lines(t, NodePoints(r, time.Unix(1700000001, 0))...)
	if len(got) != 2 {
		t.Fatalf("points = %d, want 2", len(got))
	}

	node := got[0]
	for _, want := range []string{
		"node_info,", `id=1074130365`, `name=brave\ otter`,
		"uptime=3600i", "clicks=4i", "disconnects=1i", "free_heap=120000i", "last_seen=1700000000i",
	} {
		if !strings.Contains(node, want) {
			t.Errorf("node_info line %q missing %q", node, want)
		}
	}

	mesh := got[1]
	for _, want := range []string{
		"mesh_node,", "parent=99", "parent_name=root", "firmware=a1b2",
		"status=online", "type=relay", "rssi=-61i",
	} {
		if !strings.Contains(mesh, want) {
			t.Errorf("mesh_node line %q missing %q", mesh, want)
		}
	}
}

func TestNodePointsParentFallback(t *testing.T) {
	got := lines(t, NodePoints(NodeReport{ID: 1, Name: "n", Kind: store.KindRoot}, time.Now())...)
	if !strings.Contains(got[1], "parent_name=unknown") {
		t.Errorf("root without parent: %q", got[1])
	}
	if strings.Contains(got[0], "free_heap") {
		t.Errorf("free_heap written without a value: %q", got[0])
	}

	got = lines(t, NodePoints(NodeReport{ID: 1, Name: "n", ParentID: 42}, time.Now())...)
	if !strings.Contains(got[1], "parent_name=42") {
		t.Errorf("unnamed parent: %q", got[1])
	}
	if !strings.Contains(got[1], "status=offline") {
		t.Errorf("status: %q", got[1])
	}
}

func TestReportFromStatus(t *testing.T) {
	up, parent := int64(10), uint64(7)
	r := ReportFromStatus(protocol.DeviceStatus{
		Kind: store.KindSwitch, DeviceID: 3, Firmware: "f", Uptime: &up, ParentID: &parent,
	})
	if r.ID != 3 || r.Uptime != 10 || r.ParentID != 7 || r.Clicks != 0 || r.FreeHeap != nil {
		t.Errorf("report = %+v", r)
	}
}

func TestHeatingPoint(t *testing.T) {
	line := lines(t, HeatingPoint(protocol.HeatingMetrics{Cold: 20.5, PIDOutput: 55}, time.Now()))[0]
	if !strings.HasPrefix(line, "heating ") || !strings.Contains(line, "cold=20.5") || !strings.Contains(line, "pid_output=55") {
		t.Errorf("line = %q", line)
	}
}

func TestNewDisabled(t *testing.T) {
	if _, err := New(Config{}, quietLogger()); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

func TestExporterPostsLineProtocol(t *testing.T) {
	var (
		mu   sync.Mutex
		body strings.Builder
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body.Write(data)
		path = r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e, err := New(Config{
		Enabled: true, URL: srv.URL, Org: "home", Bucket: "mesh",
		Labels: map[string]string{"site": "home"},
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	e.WriteNode(NodeReport{ID: 5, Name: "vega", Kind: store.KindSwitch, Online: true})
	e.WriteHeating(protocol.HeatingMetrics{Cold: 20.5})
	e.Close()

	mu.Lock()
	defer mu.Unlock()
	if path != "/api/v2/write" {
		t.Errorf("path = %q", path)
	}
	for _, want := range []string{"node_info,", "mesh_node,", "heating,site=home cold=20.5"} {
		if !strings.Contains(body.String(), want) {
			t.Errorf("body %q missing %q", body.String(), want)
		}
	}
	if n := strings.Count(body.String(), "site=home"); n != 3 {
		t.Errorf("site label on %d points, want 3", n)
	}
}
