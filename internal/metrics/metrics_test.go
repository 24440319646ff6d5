package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/gateway-dataplane/internal/filter"
	"github.com/SkynetNext/gateway-dataplane/internal/redirect"
	"github.com/SkynetNext/gateway-dataplane/internal/table"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) == 0 {
				if labelValue == "" {
					return m.GetCounter().GetValue() + m.GetGauge().GetValue()
				}
				continue
			}
			for _, l := range m.GetLabel() {
				if l.GetValue() == labelValue {
					return m.GetCounter().GetValue() + m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s} not gathered", name, labelValue)
	return 0
}

func TestWireTablesExposesLiveState(t *testing.T) {
	reg := prometheus.NewRegistry()
	tbls := filter.NewTablesWithCapacity(16, 16)
	registry := redirect.NewRegistry(8)
	WireTables(reg, tbls, registry)

	tbls.Stats.Add(int(filter.StatTotalPackets), 5)
	tbls.Stats.Add(int(filter.StatPassed), 3)
	require.NoError(t, tbls.Blacklist.Update(0x0A000001, 1, table.UpdateAny))

	a := redirect.SockKey{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4, Family: redirect.FamilyIPv4}
	b := redirect.SockKey{SrcIP: 2, DstIP: 1, SrcPort: 4, DstPort: 3, Family: redirect.FamilyIPv4}
	require.NoError(t, registry.InstallPair(a, b))

	assert.Equal(t, 5.0, gatherValue(t, reg, "dataplane_filter_packets_total", "total_packets"))
	assert.Equal(t, 3.0, gatherValue(t, reg, "dataplane_filter_packets_total", "passed"))
	assert.Equal(t, 1.0, gatherValue(t, reg, "dataplane_blacklist_entries", ""))
	assert.Equal(t, 2.0, gatherValue(t, reg, "dataplane_installed_pairs", ""))
}

func TestWireTablesNilRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	WireTables(reg, filter.NewTablesWithCapacity(4, 4), nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.NotContains(t, mf.GetName(), "dataplane_registered_sockets")
	}
}
