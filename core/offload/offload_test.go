package offload_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xdpfabric/afxdp/core/offload"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied []offload.Settings
	reverts int
}

func (a *recordingApplier) Apply(ifIndex int, s offload.Settings) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, s)
	return nil
}

func (a *recordingApplier) Revert(ifIndex int, prev offload.Settings, hadPrev bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reverts++
	return nil
}

func TestInstallThenRevertRestoresPrevious(t *testing.T) {
	app := &recordingApplier{}
	m := offload.NewManager(app)

	s1 := offload.Settings{Kind: offload.KindRSS, RSSHashKey: []byte{1, 2, 3}}
	require.NoError(t, m.Install(1, s1))
	cur, ok := m.Current(1, offload.KindRSS)
	require.True(t, ok)
	require.Equal(t, s1.RSSHashKey, cur.RSSHashKey)

	s2 := offload.Settings{Kind: offload.KindRSS, RSSHashKey: []byte{9, 9}}
	require.NoError(t, m.Install(1, s2))

	require.NoError(t, m.Revert(1, offload.KindRSS))
	cur, ok = m.Current(1, offload.KindRSS)
	require.True(t, ok)
	require.Equal(t, s1.RSSHashKey, cur.RSSHashKey)
	require.Equal(t, 1, app.reverts)
}

func TestRevertWithoutInstallErrors(t *testing.T) {
	m := offload.NewManager(&recordingApplier{})
	err := m.Revert(5, offload.KindQEO)
	require.Error(t, err)
}

func TestInterfacesAreIndependent(t *testing.T) {
	app := &recordingApplier{}
	m := offload.NewManager(app)
	require.NoError(t, m.Install(1, offload.Settings{Kind: offload.KindRSS}))
	require.NoError(t, m.Install(2, offload.Settings{Kind: offload.KindRSS}))

	_, ok1 := m.Current(1, offload.KindRSS)
	_, ok2 := m.Current(2, offload.KindRSS)
	require.True(t, ok1)
	require.True(t, ok2)
}
