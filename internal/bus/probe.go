package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/callcatcherops/autonomy/internal/config"
)

// CheckStatus is the verdict of one connectivity check.
type CheckStatus string

const (
	CheckOK   CheckStatus = "OK"
	CheckWarn CheckStatus = "WARN"
	CheckFail CheckStatus = "FAIL"
	CheckSkip CheckStatus = "SKIP"
)

// Check is one row of a Probe result.
type Check struct {
	Target string      `json:"target"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail"`
	Hint   string      `json:"hint,omitempty"`
}

// Probe dials every configured broker, asks for its API versions and
// partition metadata, and confirms the ledger, signals and report topics
// are visible. Missing topics are a warning: the publisher may create them.
func Probe(ctx context.Context, cfg config.KafkaConfig, timeout time.Duration) []Check {
	if !cfg.Enabled() {
		return []Check{{Target: "kafka", Status: CheckSkip, Detail: "no brokers configured"}}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var (
		checks []Check
		parts  []kafka.Partition
	)
	for _, addr := range cfg.Brokers {
		c, p := probeBroker(ctx, addr, timeout)
		checks = append(checks, c)
		if c.Status == CheckOK && parts == nil {
			parts = p
		}
	}
	if parts == nil {
		return checks
	}

	visible := map[string]int{}
	for _, p := range parts {
		if p.Leader.Host != "" {
			visible[p.Topic]++
		} else if _, ok := visible[p.Topic]; !ok {
			visible[p.Topic] = 0
		}
	}
	for _, topic := range []string{cfg.LedgerTopic, cfg.SignalsTopic, cfg.ReportTopic} {
		if topic == "" {
			continue
		}
		leaders, ok := visible[topic]
		switch {
		case !ok:
			checks = append(checks, Check{Target: topic, Status: CheckWarn,
				Detail: "topic not found or not authorized",
				Hint:   "Create the topic or grant Describe; auto-creation only works if the broker allows it."})
		case leaders == 0:
			checks = append(checks, Check{Target: topic, Status: CheckFail,
				Detail: "no partition has a leader",
				Hint:   "Leader not available; check broker health and metadata propagation."})
		default:
			checks = append(checks, Check{Target: topic, Status: CheckOK,
				Detail: fmt.Sprintf("visible; leader partitions=%d", leaders)})
		}
	}
	return checks
}

func probeBroker(ctx context.Context, addr string, timeout time.Duration) (Check, []kafka.Partition) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := (&kafka.Dialer{Timeout: timeout}).DialContext(dctx, "tcp", addr)
	if err != nil {
		return Check{Target: addr, Status: CheckFail, Detail: fmt.Sprintf("dial failed: %v", err), Hint: hint(err)}, nil
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.ApiVersions(); err != nil {
		return Check{Target: addr, Status: CheckFail, Detail: fmt.Sprintf("ApiVersions failed: %v", err), Hint: hint(err)}, nil
	}
	parts, err := conn.ReadPartitions()
	if err != nil {
		return Check{Target: addr, Status: CheckFail, Detail: fmt.Sprintf("ReadPartitions failed: %v", err), Hint: hint(err)}, nil
	}
	lat := time.Since(start).Truncate(time.Millisecond)
	return Check{Target: addr, Status: CheckOK, Detail: fmt.Sprintf("connected in %s; %d partitions", lat, len(parts))}, parts
}

func hint(err error) string {
	var ke kafka.Error
	if errors.As(err, &ke) {
		switch ke {
		case kafka.TopicAuthorizationFailed:
			return "Missing topic ACL: Write/Describe for produce; Read/Describe for consume."
		case kafka.GroupAuthorizationFailed:
			return "Missing group ACL: Read/Describe on group."
		case kafka.SASLAuthenticationFailed:
			return "Verify SASL mechanism and credentials."
		case kafka.LeaderNotAvailable, kafka.NotLeaderForPartition:
			return "Leader not available; check broker health."
		}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return "Timed out: check network path, firewall, DNS, or advertised.listeners."
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return "Nothing is listening on that address; check the broker list and port."
	case strings.Contains(msg, "no such host"):
		return "DNS lookup failed; check the broker hostname."
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"), strings.Contains(msg, "eof"):
		return "TLS or protocol mismatch; the listener may require SSL or SASL."
	}
	return ""
}

// Failed reports whether any check failed.
func Failed(checks []Check) bool {
	for _, c := range checks {
		if c.Status == CheckFail {
			return true
		}
	}
	return false
}
