package fingerprint

import (
	"context"
	"regexp"
	"slices"

	"github.com/sirupsen/logrus"
)

var addressPattern = regexp.MustCompile(`(?i)([0-9]{1,3}(\.[0-9]{1,3}){3}|[a-f0-9]{1,4}(:[a-f0-9]{1,4}){7})`)

type NetworkCollector struct {
	Connector PeerConnector
	Servers   []string
	Log       logrus.FieldLogger
}

func (n *NetworkCollector) Name() string { return "network" }

// Discover returns the de-duplicated candidate addresses seen before gathering
// completes or ctx ends. The peer session is closed on every path.
func (n *NetworkCollector) Discover(ctx context.Context) []string {
	addrs := []string{}
	if n.Connector == nil {
		return addrs
	}
	sess, err := n.Connector.Open(ctx, n.Servers)
	if err != nil {
		logger(n.Log).WithError(err).Debug("Discover: peer connection unavailable")
		return addrs
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger(n.Log).WithError(err).Warn("Discover: failed to close peer connection")
		}
	}()

	seen := make(map[string]struct{})
	candidates := sess.Candidates()
	for {
		select {
		case <-ctx.Done():
			return addrs
		case line, ok := <-candidates:
			if !ok {
				return addrs
			}
			for _, m := range ExtractAddresses(line) {
				if _, dup := seen[m]; dup {
					continue
				}
				seen[m] = struct{}{}
				addrs = append(addrs, m)
				slices.Sort(addrs)
			}
		}
	}
}

// ExtractAddresses returns every IPv4 or full IPv6 literal in a candidate line.
func ExtractAddresses(line string) []string {
	matches := addressPattern.FindAllStringSubmatch(line, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
