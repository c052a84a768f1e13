package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xdpfabric/afxdp/core/program"
)

func TestParseRuleKnownMatchAndAction(t *testing.T) {
	r, err := parseRule("udp", "drop", 53)
	require.NoError(t, err)
	require.Equal(t, program.MatchUDP, r.Match)
	require.Equal(t, program.ActionDrop, r.Action)
	require.Equal(t, uint16(53), r.Port)
}

func TestParseRulePortSet(t *testing.T) {
	r, err := parseRule("portset", "pass", 8080)
	require.NoError(t, err)
	require.Equal(t, program.MatchPortSet, r.Match)
	require.Equal(t, []uint16{8080}, r.PortSet)
}

func TestParseRuleRejectsUnknownMatch(t *testing.T) {
	_, err := parseRule("bogus", "pass", 0)
	require.Error(t, err)
}

func TestParseRuleRejectsUnknownAction(t *testing.T) {
	_, err := parseRule("udp", "bogus", 0)
	require.Error(t, err)
}

func TestRootCommandHasExpectedSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["set-device-sddl"])
	require.True(t, names["program"])
	require.True(t, names["rss"])
	require.True(t, names["debug"])
}
