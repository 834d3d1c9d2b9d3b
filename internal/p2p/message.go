package p2p

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// FileID names a shared file. It is the base name of the source path.
type FileID = string

// MessageType identifies the payload carried by an Envelope.
type MessageType string

const (
	MessageStoreChunk  MessageType = "store_chunk"
	MessageStoreAck    MessageType = "store_ack"
	MessageRegister    MessageType = "register"
	MessageRegisterAck MessageType = "register_ack"
	MessageGetPeers    MessageType = "get_peers"
	MessagePeerMap     MessageType = "peer_map"
	MessageFetchChunk  MessageType = "fetch_chunk"
	MessageChunkData   MessageType = "chunk_data"
	MessagePing        MessageType = "ping"
	MessagePong        MessageType = "pong"
	MessageError       MessageType = "error"
)

// Status strings carried in acks and fetch responses.
const (
	StatusChunkReceived = "OK: chunk received"
	StatusOK            = "ok"
	ErrTextNotFound     = "Chunk not found"
	ErrTextCorrupt      = "chunk corrupt"
)

// Envelope is the JSON body of every frame.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a fresh envelope with a new message ID.
func NewEnvelope(msgType MessageType, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		env.Data = data
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrMalformedMessage, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, e.Type, err)
	}
	return nil
}

// PeerAddress is where a peer storage service listens.
type PeerAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParsePeerAddress parses "host:port".
func ParsePeerAddress(s string) (PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("invalid peer address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return PeerAddress{}, fmt.Errorf("invalid port in peer address %q", s)
	}
	if host == "" {
		host = "localhost"
	}
	return PeerAddress{Host: host, Port: port}, nil
}

// ParsePeerAddresses parses every entry of list, failing on the first bad one.
func ParsePeerAddresses(list []string) ([]PeerAddress, error) {
	peers := make([]PeerAddress, 0, len(list))
	for _, s := range list {
		addr, err := ParsePeerAddress(s)
		if err != nil {
			return nil, err
		}
		peers = append(peers, addr)
	}
	return peers, nil
}

type StoreRequest struct {
	ChunkIndex int    `json:"chunk_index"`
	ChunkData  []byte `json:"chunk_data"`
	Digest     string `json:"digest,omitempty"`
}

type StoreAck struct {
	Status string `json:"status"`
}

type RegisterRequest struct {
	FileID      FileID      `json:"file_id"`
	Chunks      []int       `json:"chunks"`
	PeerAddress PeerAddress `json:"peer_address"`
}

type RegisterAck struct {
	Status string `json:"status"`
}

type GetPeersRequest struct {
	FileID FileID `json:"file_id"`
}

// PeerMap answers GetPeers. An unknown file yields an empty map.
type PeerMap struct {
	Chunks map[int][]PeerAddress `json:"chunks"`
}

type FetchRequest struct {
	RequestChunk int `json:"request_chunk"`
}

// ChunkData answers Fetch. Error is set instead of ChunkData when the peer
// cannot serve the chunk.
type ChunkData struct {
	ChunkData []byte `json:"chunk_data,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Pong struct {
	NodeID string `json:"node_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
