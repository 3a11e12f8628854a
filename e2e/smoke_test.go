//go:build e2e

// End-to-end smoke test: a containerized mosquitto broker, the real
// subscriber/worker/store pipeline, and the HTTP query API.
//
// Run with: go test -tags e2e ./e2e/
package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"weatherhub/internal/config"
	"weatherhub/internal/db"
	"weatherhub/internal/httpapi"
	"weatherhub/internal/ingest"
	"weatherhub/internal/migrate"
	"weatherhub/internal/mqtt"
	"weatherhub/internal/query"
	"weatherhub/internal/store"
)

const mosquittoConf = `listener 1883
allow_anonymous true
`

// freePort reserves an ephemeral port and releases it for the broker to
// bind. The fixed host binding keeps the broker address stable across a
// container stop/start, which Docker does not guarantee for random ports.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		t.Fatalf("release port: %v", err)
	}
	return port
}

func startBroker(t *testing.T, ctx context.Context) (broker testcontainers.Container, host string, port int) {
	t.Helper()

	hostPort := freePort(t)
	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort(nat.Port("1883/tcp")),
		Files: []testcontainers.ContainerFile{
			{
				Reader:            strings.NewReader(mosquittoConf),
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			},
		},
		HostConfigModifier: func(hc *dockercontainer.HostConfig) {
			hc.PortBindings = nat.PortMap{
				"1883/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}},
			}
		},
	}
	broker, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(broker); err != nil {
			t.Logf("terminate mosquitto: %v", err)
		}
	})

	host, err = broker.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	return broker, host, hostPort
}

func setupStore(t *testing.T, cfg config.Config) (store.ReadingStore, *sql.DB) {
	t.Helper()
	dbConn, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(dbConn); err != nil {
			t.Logf("close db: %v", err)
		}
	})
	if err := migrate.Run(dbConn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(dbConn), dbConn
}

func TestSmoke_PublishIngestQuery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	broker, host, port := startBroker(t, ctx)

	cfg := config.Config{
		Driver:          "sqlite3",
		SQLitePath:      filepath.Join(t.TempDir(), "weather_data.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		MQTTBroker:      host,
		MQTTPort:        port,
		MQTTClientID:    "weatherhub-e2e-central",
		MQTTTopic:       "weather/readings/#",
		IngestQueueSize: 16,
	}

	readingStore, dbConn := setupStore(t, cfg)

	subscriber := mqtt.NewSubscriber(cfg, slog.Default())
	defer subscriber.Disconnect()
	worker := ingest.NewWorker(subscriber.Messages(), readingStore, slog.Default())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = worker.Run(context.Background())
	}()

	if err := subscriber.Connect(ctx); err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}

	pubCfg := cfg
	pubCfg.MQTTClientID = "weatherhub-e2e-station"
	publisher := mqtt.NewPublisher(pubCfg, slog.Default())
	defer publisher.Disconnect()
	if err := publisher.Connect(ctx); err != nil {
		t.Fatalf("publisher connect: %v", err)
	}

	temp, hum := 21.5, 55.0
	ts := time.Now().UTC().Truncate(time.Second)
	payloads := []ingest.Payload{
		{StationID: "A", Timestamp: ts, Temperature: &temp, TemperatureSensorID: "bme1"},
		{StationID: "B", Timestamp: ts, Humidity: &hum, HumiditySensorID: "dht1"},
	}
	for _, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		if err := publisher.Publish(mqtt.StationTopic(p.StationID), data); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitForRows(t, readingStore, 2, 15*time.Second)

	// Query API over the same store.
	mux := httpapi.NewMux(dbConn)
	httpapi.RegisterAPI(mux, query.NewEngine(readingStore))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var readingsBody struct {
		Readings []store.Reading `json:"readings"`
	}
	getJSON(t, srv.URL+"/api/readings?range=all&station=all", &readingsBody)
	if len(readingsBody.Readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readingsBody.Readings))
	}
	// Delivery order across two topics is not guaranteed; look rows up by station.
	byStation := map[string]store.Reading{}
	for _, r := range readingsBody.Readings {
		byStation[r.StationID] = r
	}
	a, ok := byStation["A"]
	if !ok || a.Temperature == nil || *a.Temperature != temp || a.Humidity != nil {
		t.Errorf("row A = %+v", a)
	}
	b, ok := byStation["B"]
	if !ok || b.Humidity == nil || *b.Humidity != hum || b.Temperature != nil {
		t.Errorf("row B = %+v", b)
	}

	var avgBody struct {
		AvgTemperature *float64 `json:"avg_temperature"`
		AvgHumidity    *float64 `json:"avg_humidity"`
		Count          int      `json:"count"`
	}
	getJSON(t, srv.URL+"/api/average?range=all", &avgBody)
	if avgBody.AvgTemperature == nil || *avgBody.AvgTemperature != temp {
		t.Errorf("avg_temperature = %v; want %v", avgBody.AvgTemperature, temp)
	}
	if avgBody.AvgHumidity == nil || *avgBody.AvgHumidity != hum {
		t.Errorf("avg_humidity = %v; want %v", avgBody.AvgHumidity, hum)
	}

	// Broker restart: both clients auto-reconnect, the subscriber
	// resubscribes in its OnConnect handler, and messages published after
	// recovery reach the store.
	stopTimeout := 10 * time.Second
	if err := broker.Stop(ctx, &stopTimeout); err != nil {
		t.Fatalf("stop mosquitto: %v", err)
	}
	if err := broker.Start(ctx); err != nil {
		t.Fatalf("start mosquitto: %v", err)
	}

	temp2 := 23.0
	after, err := json.Marshal(ingest.Payload{
		StationID:           "A",
		Timestamp:           ts.Add(time.Minute),
		Temperature:         &temp2,
		TemperatureSensorID: "bme1",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	publishWithRetry(t, publisher, mqtt.StationTopic("A"), after, 45*time.Second)
	waitForRows(t, readingStore, 3, 30*time.Second)

	rows, err := readingStore.QueryRange(time.Time{}, time.Now().UTC().Add(time.Hour), "A")
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	found := false
	for _, r := range rows {
		if r.Temperature != nil && *r.Temperature == temp2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("post-restart reading not stored; station A rows: %+v", rows)
	}

	subscriber.Disconnect()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after disconnect")
	}
}

// publishWithRetry keeps publishing until the client has reconnected and
// the broker acks, or the deadline passes.
func publishWithRetry(t *testing.T, p *mqtt.Publisher, topic string, payload []byte, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		err := p.Publish(topic, payload)
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("publish after broker restart: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func waitForRows(t *testing.T, s store.ReadingStore, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		rows, err := s.QueryRange(time.Time{}, time.Now().UTC().Add(time.Hour), store.StationAll)
		if err != nil {
			t.Fatalf("QueryRange: %v", err)
		}
		if len(rows) >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d rows; have %d", want, len(rows))
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
