package metadata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkmesh/internal/p2p"
)

func TestJournalFileRecord(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal"))
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.PutFile(FileRecord{FileID: "testfile.txt", Size: 12345, NumChunks: 1}))

	rec, err := j.GetFile("testfile.txt")
	require.NoError(t, err)
	require.Equal(t, int64(12345), rec.Size)
	require.NotZero(t, rec.CreatedAt)

	_, err = j.GetFile("other.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJournalPlacements(t *testing.T) {
	j, err := OpenInMemoryJournal()
	require.NoError(t, err)
	defer j.Close()

	peer := p2p.PeerAddress{Host: "localhost", Port: 9101}
	for i, state := range []PlacementState{StateRegistered, StateStored, StateUnplaced, StateStored} {
		require.NoError(t, j.PutPlacement(Placement{FileID: "a.bin", Index: i, Peer: peer, State: state}))
	}
	require.NoError(t, j.PutPlacement(Placement{FileID: "a.bin:2", Index: 0, Peer: peer, State: StateStored}))

	all, err := j.ListByFile("a.bin")
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, p := range all {
		require.Equal(t, i, p.Index)
	}

	stored, err := j.ListByState(StateStored)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Equal(t, "a.bin", stored[0].FileID)
	require.Equal(t, 1, stored[0].Index)
	require.Equal(t, 3, stored[1].Index)
	require.Equal(t, "a.bin:2", stored[2].FileID)

	p := stored[0]
	p.State = StateRegistered
	require.NoError(t, j.PutPlacement(p))
	got, err := j.GetPlacement("a.bin", 1)
	require.NoError(t, err)
	require.Equal(t, StateRegistered, got.State)
}

func TestJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.PutPlacement(Placement{FileID: "f", Index: 0, State: StateStored}))
	require.NoError(t, j.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()
	stored, err := j.ListByState(StateStored)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}
