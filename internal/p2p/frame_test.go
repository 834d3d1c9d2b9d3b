package p2p

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeFraming(t *testing.T) {
	var buf bytes.Buffer
	req := StoreRequest{ChunkIndex: 7, ChunkData: []byte("hello chunk"), Digest: "abc"}
	require.NoError(t, WriteMessage(&buf, MessageStoreChunk, req))

	length := binary.BigEndian.Uint32(buf.Bytes()[:4])
	require.Equal(t, buf.Len()-4, int(length))

	env, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	require.Equal(t, MessageStoreChunk, env.Type)
	require.NotEmpty(t, env.ID)

	var got StoreRequest
	require.NoError(t, env.Decode(&got))
	require.Equal(t, req, got)
}

func TestReadEnvelopeRejectsBadFrames(t *testing.T) {
	t.Run("zero length", func(t *testing.T) {
		_, err := ReadEnvelope(bytes.NewReader([]byte{0, 0, 0, 0}))
		require.ErrorIs(t, err, ErrEmptyFrame)
	})

	t.Run("oversized", func(t *testing.T) {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, MaxFrameSize+1)
		_, err := ReadEnvelope(bytes.NewReader(hdr))
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("not json", func(t *testing.T) {
		body := []byte("definitely not json")
		frame := make([]byte, 4, 4+len(body))
		binary.BigEndian.PutUint32(frame, uint32(len(body)))
		frame = append(frame, body...)
		_, err := ReadEnvelope(bytes.NewReader(frame))
		require.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("truncated body", func(t *testing.T) {
		frame := []byte{0, 0, 0, 10, '{'}
		_, err := ReadEnvelope(bytes.NewReader(frame))
		require.Error(t, err)
	})
}

func TestPeerMapIntKeys(t *testing.T) {
	var buf bytes.Buffer
	pm := PeerMap{Chunks: map[int][]PeerAddress{
		0: {{Host: "localhost", Port: 9101}},
		2: {{Host: "localhost", Port: 9101}, {Host: "localhost", Port: 9102}},
	}}
	require.NoError(t, WriteMessage(&buf, MessagePeerMap, pm))

	env, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	var got PeerMap
	require.NoError(t, env.Decode(&got))
	require.Equal(t, pm, got)
}

func TestParsePeerAddress(t *testing.T) {
	addr, err := ParsePeerAddress("localhost:9101")
	require.NoError(t, err)
	require.Equal(t, PeerAddress{Host: "localhost", Port: 9101}, addr)
	require.Equal(t, "localhost:9101", addr.String())

	_, err = ParsePeerAddress("localhost")
	require.Error(t, err)
	_, err = ParsePeerAddress("localhost:0")
	require.Error(t, err)

	peers, err := ParsePeerAddresses([]string{"a:1", "b:2"})
	require.NoError(t, err)
	require.Len(t, peers, 2)
}

func TestLargestChunkFitsInFrame(t *testing.T) {
	digest := string(bytes.Repeat([]byte("f"), 64))

	var buf bytes.Buffer
	req := StoreRequest{ChunkIndex: 1 << 30, ChunkData: make([]byte, MaxChunkSize), Digest: digest}
	require.NoError(t, WriteMessage(&buf, MessageStoreChunk, req))

	env, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	var got StoreRequest
	require.NoError(t, env.Decode(&got))
	require.Len(t, got.ChunkData, MaxChunkSize)

	buf.Reset()
	req.ChunkData = make([]byte, MaxFrameSize/4*3+3)
	require.ErrorIs(t, WriteMessage(&buf, MessageStoreChunk, req), ErrFrameTooLarge)
}
