package node

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// GetStats returns a snapshot of the node counters.
func (n *Node) GetStats() map[string]string {
	relayStats := n.relay.Stats()
	balance := n.balance.get()
	tip := n.NetworkTip()

	u := func(v uint64) string {
		return strconv.FormatUint(v, 10)
	}

	return map[string]string{
		"state":            n.getState().String(),
		"status":           n.tiv.Status().String(),
		"tip_height":       u(n.tiv.TipHeight()),
		"network_height":   u(tip.Height),
		"connections":      strconv.Itoa(n.hub.Count()),
		"outbound":         strconv.Itoa(n.hub.OutboundCount()),
		"presences":        strconv.Itoa(n.directory.Count()),
		"pending":          strconv.Itoa(n.pending.Count()),
		"staged":           strconv.Itoa(n.relay.StagedCount()),
		"bytes_in":         u(relayStats.BytesIn),
		"bytes_out":        u(relayStats.BytesOut),
		"forwarded":        u(relayStats.Forwarded),
		"rejected":         u(relayStats.Rejected),
		"relay_failed":     u(relayStats.Failed),
		"postage_paid":     u(relayStats.Paid),
		"balance":          u(balance.Amount),
		"balance_verified": strconv.FormatBool(balance.Verified),
		"endpoint":         n.Endpoint(),
		"reachable":        strconv.FormatBool(n.Reachable()),
		"uptime":           n.clock.Now().Sub(n.start).Truncate(time.Second).String(),
	}
}

func (n *Node) logStats() {
	stats := n.GetStats()

	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}
	n.logger.WithFields(fields).Info("Stats")
}
