package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/pcs/internal/statecache"
	"github.com/rzbill/pcs/internal/workitem"
)

// fakeWorker mimics the worker's REST API.
type fakeWorker struct {
	state    string
	enqueued map[string]any
}

func (f *fakeWorker) handler() http.Handler {
	mux := http.NewServeMux()
	status := func(w http.ResponseWriter, code int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"replica": "w0", "state": f.state, "inFlight": false})
	}
	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) { status(w, 200) })
	mux.HandleFunc("/v1/status/start", func(w http.ResponseWriter, r *http.Request) {
		f.state = "Working"
		status(w, 200)
	})
	mux.HandleFunc("/v1/status/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") == "" {
			f.state = "Stopping"
			status(w, 202)
			return
		}
		f.state = "Stopped"
		status(w, 200)
	})
	mux.HandleFunc("/v1/workitems", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.enqueued)
		if f.enqueued["type"] == "Nope" {
			w.WriteHeader(400)
			_, _ = w.Write([]byte(`{"error":"unknown work item type"}`))
			return
		}
		w.WriteHeader(202)
		_, _ = w.Write([]byte(`{"workItemId":"wi-1","messageId":"m-1","type":"BuildCoherencyInfo"}`))
	})
	mux.HandleFunc("/v1/deadletters/3/requeue", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(202)
		_, _ = w.Write([]byte(`{"seq":3,"messageId":"m-9"}`))
	})
	mux.HandleFunc("/v1/deadletters/3", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(405)
			return
		}
		w.WriteHeader(204)
	})
	mux.HandleFunc("/v1/deadletters/4", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(404) })
	return mux
}

func execute(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(func() string { return baseURL })
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestStatusOverHTTP(t *testing.T) {
	fw := &fakeWorker{state: "Stopped"}
	ts := httptest.NewServer(fw.handler())
	defer ts.Close()

	out, err := execute(t, ts.URL, "status")
	if err != nil || !strings.Contains(out, `"state": "Stopped"`) {
		t.Fatalf("status: %v %s", err, out)
	}
	out, err = execute(t, ts.URL, "status", "start")
	if err != nil || !strings.Contains(out, `"state": "Working"`) {
		t.Fatalf("start: %v %s", err, out)
	}
	out, err = execute(t, ts.URL, "status", "stop")
	if err != nil || !strings.Contains(out, `"state": "Stopping"`) {
		t.Fatalf("stop: %v %s", err, out)
	}
	out, err = execute(t, ts.URL, "status", "stop", "--wait", "1s")
	if err != nil || !strings.Contains(out, `"state": "Stopped"`) {
		t.Fatalf("stop --wait: %v %s", err, out)
	}
	out, err = execute(t, ts.URL, "status", "wait", "--state", "Stopped", "--timeout", "1s", "--poll", "10ms")
	if err != nil {
		t.Fatalf("wait: %v %s", err, out)
	}
}

func TestStatusWaitTimesOut(t *testing.T) {
	fw := &fakeWorker{state: "Working"}
	ts := httptest.NewServer(fw.handler())
	defer ts.Close()
	if _, err := execute(t, ts.URL, "status", "wait", "--state", "Stopped", "--timeout", "50ms", "--poll", "10ms"); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestStatusThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()
	cache := statecache.New(rdb, "pcs:")
	if err := cache.SetState(ctx, "w1", workitem.Working); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := execute(t, "http://unused", "status", "--replica", "w1", "--redis", mr.Addr())
	if err != nil || !strings.Contains(out, `"state": "Working"`) {
		t.Fatalf("get: %v %s", err, out)
	}
	out, err = execute(t, "http://unused", "status", "stop", "--replica", "w1", "--redis", mr.Addr())
	if err != nil {
		t.Fatalf("stop: %v %s", err, out)
	}
	cmd, ok, err := cache.LastCommand(ctx, "w1")
	if err != nil || !ok || cmd.Desired != workitem.Stopped {
		t.Fatalf("command %+v ok=%v err=%v", cmd, ok, err)
	}
	out, err = execute(t, "http://unused", "status", "replicas", "--redis", mr.Addr())
	if err != nil || !strings.Contains(out, `"replica": "w1"`) {
		t.Fatalf("replicas: %v %s", err, out)
	}
}

func TestEnqueue(t *testing.T) {
	fw := &fakeWorker{}
	ts := httptest.NewServer(fw.handler())
	defer ts.Close()

	out, err := execute(t, ts.URL, "workitem", "enqueue", "--type", "BuildCoherencyInfo", "--data", `{"buildId":7}`, "--delay", "1m")
	if err != nil || !strings.Contains(out, "wi-1") {
		t.Fatalf("enqueue: %v %s", err, out)
	}
	if fw.enqueued["delay"] != "1m0s" {
		t.Fatalf("delay sent: %v", fw.enqueued["delay"])
	}
	if _, err := execute(t, ts.URL, "workitem", "enqueue", "--type", "Nope"); err == nil {
		t.Fatalf("expected error for 400")
	}
	if _, err := execute(t, ts.URL, "workitem", "enqueue", "--type", "X", "--data", "{"); err == nil {
		t.Fatalf("expected invalid JSON error")
	}
}

func TestHealthCommand(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("pcs.WorkItemProcessor", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	out, err := execute(t, "", "health", "--addr", lis.Addr().String(), "--timeout", "2s")
	if err != nil || !strings.Contains(out, "SERVING") {
		t.Fatalf("health: %v %s", err, out)
	}
	if _, err := execute(t, "", "health", "--addr", lis.Addr().String(), "--processor", "--timeout", time.Second.String()); err == nil {
		t.Fatalf("expected not serving error")
	}
}

func TestDeadLetterCommands(t *testing.T) {
	ts := httptest.NewServer((&fakeWorker{}).handler())
	defer ts.Close()

	out, err := execute(t, ts.URL, "deadletter", "requeue", "3")
	if err != nil || !strings.Contains(out, "m-9") {
		t.Fatalf("requeue: %v %s", err, out)
	}
	if out, err := execute(t, ts.URL, "dlq", "delete", "3"); err != nil || !strings.Contains(out, "OK") {
		t.Fatalf("delete: %v %s", err, out)
	}
	if _, err := execute(t, ts.URL, "dlq", "delete", "4"); err == nil {
		t.Fatalf("expected error for missing entry")
	}
}
