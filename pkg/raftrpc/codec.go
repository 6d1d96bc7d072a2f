package raftrpc

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire shape: a notify-style message whose name is the RPC
// kind and whose single argument carries the routing header plus
// kind-specific fields (spec.md §4.2).
type envelope struct {
	Method Kind            `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Encode serializes msg to its wire form.
func Encode(msg Message) ([]byte, error) {
	params, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("raftrpc: encode %s: %w", msg.Kind(), err)
	}
	env := envelope{Method: msg.Kind(), Params: params}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("raftrpc: encode envelope: %w", err)
	}
	return out, nil
}

// Decode parses the wire form into the concrete Message variant for its
// kind. It performs no cluster-id or routing validation — that is the
// Raft engine's responsibility, since it alone knows the local server's
// identity and whether a cluster id has been learned yet (spec.md §4.2).
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("raftrpc: decode envelope: %w", err)
	}

	switch env.Method {
	case KindHelloRequest:
		var m HelloRequest
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindAppendRequest:
		var m AppendRequest
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindAppendReply:
		var m AppendReply
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindVoteRequest:
		var m VoteRequest
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindVoteReply:
		var m VoteReply
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindAddServerRequest:
		var m AddServerRequest
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindAddServerReply:
		var m AddServerReply
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindRemoveServerRequest:
		var m RemoveServerRequest
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindRemoveServerReply:
		var m RemoveServerReply
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindInstallSnapshotRequest:
		var m InstallSnapshotRequest
		err := unmarshalParams(env.Params, &m)
		return m, err
	case KindInstallSnapshotReply:
		var m InstallSnapshotReply
		err := unmarshalParams(env.Params, &m)
		return m, err
	default:
		return nil, fmt.Errorf("raftrpc: unknown method %q", env.Method)
	}
}

func unmarshalParams(params json.RawMessage, dst Message) error {
	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("raftrpc: decode params: %w", err)
	}
	return nil
}
