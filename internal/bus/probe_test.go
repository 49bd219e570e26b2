package bus

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/callcatcherops/autonomy/internal/config"
)

func TestProbeSkipsWithoutBrokers(t *testing.T) {
	checks := Probe(context.Background(), config.KafkaConfig{}, time.Second)
	if len(checks) != 1 || checks[0].Status != CheckSkip {
		t.Fatalf("unexpected checks %+v", checks)
	}
	if Failed(checks) {
		t.Fatal("skip is not a failure")
	}
}

func TestProbeReportsUnreachableBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	checks := Probe(context.Background(), config.KafkaConfig{Brokers: []string{addr}, LedgerTopic: "autonomy.ledger"}, 2*time.Second)
	if len(checks) != 1 {
		t.Fatalf("topic checks need a reachable broker, got %+v", checks)
	}
	c := checks[0]
	if c.Target != addr || c.Status != CheckFail || !strings.Contains(c.Detail, "dial failed") {
		t.Fatalf("unexpected check %+v", c)
	}
	if !Failed(checks) {
		t.Fatal("Failed should report the dial failure")
	}
}
