package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/carouseldb/carousel/internal/api"
	"github.com/carouseldb/carousel/internal/config"
	"github.com/carouseldb/carousel/internal/ingest"
	"github.com/carouseldb/carousel/internal/storage"
	"github.com/carouseldb/carousel/internal/storage/types"
	carouseltest "github.com/carouseldb/carousel/internal/testing"
	"github.com/carouseldb/carousel/internal/wire"
)

// TestIntegration_FullPipeline exercises the complete path: points
// streamed over TCP, queried back over HTTP as CSV, free space visible
// in /stats.
func TestIntegration_FullPipeline(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Volumes.Capacity = 4096

	svc, err := storage.New(cfg)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("svc.Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	tcpSrv := ingest.NewServer("127.0.0.1:0", cfg.Ingest.MaxFrameSize, svc)
	if err := tcpSrv.Start(); err != nil {
		t.Fatalf("tcp start: %v", err)
	}
	t.Cleanup(func() { tcpSrv.Stop() })

	httpSrv := api.New("127.0.0.1:0", svc)
	if err := httpSrv.Start(); err != nil {
		t.Fatalf("http start: %v", err)
	}
	t.Cleanup(func() { httpSrv.Stop(context.Background()) })

	// Stream points over TCP.
	conn, err := net.Dial("tcp", tcpSrv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	const n = 100
	w := wire.NewWriter(conn)
	for i := int64(0); i < n; i++ {
		p := types.Point{Series: "temp room=kitchen", Timestamp: i, Value: float64(20) + float64(i)/10}
		if err := w.WritePoint(p); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	carouseltest.Eventually(t, 5*time.Second, func() bool {
		return svc.IngestStats().Flushed == n
	}, "points did not reach the volumes")

	baseURL := "http://" + httpSrv.Addr().String()

	// Query back over HTTP, descending.
	body := `{"select": "temp", "where": {"room": "kitchen"}, "range": {"from": 99, "to": 0}}`
	resp, err := http.Post(baseURL+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status %d", resp.StatusCode)
	}
	csv, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(csv), "\r\n"), "\r\n")
	if len(lines) != n {
		t.Fatalf("got %d rows, want %d", len(lines), n)
	}
	for i, line := range lines {
		want := types.FormatTimestamp(int64(n - 1 - i))
		if cols := strings.Split(line, ","); cols[1] != want {
			t.Fatalf("row %d: timestamp %q, want %q", i, cols[1], want)
		}
	}

	// Free space is reported per volume and has decreased.
	resp, err = http.Get(baseURL + "/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	defer resp.Body.Close()

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("stats json: %v", err)
	}
	for i := 0; i < cfg.Volumes.Count; i++ {
		key := fmt.Sprintf("volume_%d", i)
		if _, ok := doc[key]; !ok {
			t.Fatalf("stats missing %s", key)
		}
	}
	var vol0 struct {
		FreeSpace int64 `json:"free_space"`
	}
	if err := json.Unmarshal(doc["volume_0"], &vol0); err != nil {
		t.Fatal(err)
	}
	if vol0.FreeSpace >= cfg.Volumes.Capacity {
		t.Errorf("volume_0 free_space %d did not decrease from %d", vol0.FreeSpace, cfg.Volumes.Capacity)
	}
}
