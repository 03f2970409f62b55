package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/internal/rpc"
)

type putFileArgs struct {
	BinaryData  string `json:"binary_data"`
	Description string `json:"description"`
}

type putFileReply struct {
	Digest string `json:"digest"`
}

type getFileArgs struct {
	Digest string `json:"digest"`
}

type getFileReply struct {
	BinaryData string `json:"binary_data"`
}

// RPCStore forwards content to the FileStorage service over the
// backend channel protocol. Payloads travel base64-encoded inside the
// JSON frames; the service answers put_file with the digest it
// assigned.
type RPCStore struct {
	pool  *rpc.Pool
	coord registry.ServiceCoordinate
}

func NewRPCStore(pool *rpc.Pool) *RPCStore {
	return &RPCStore{
		pool:  pool,
		coord: registry.ServiceCoordinate{Name: "FileStorage", Shard: 0},
	}
}

func (r *RPCStore) Put(data []byte, description string, tag any, cb PutCallback) {
	args := putFileArgs{
		BinaryData:  base64.StdEncoding.EncodeToString(data),
		Description: description,
	}
	r.pool.Invoke(r.coord, "put_file", args, tag, func(result json.RawMessage, tag any, err error) {
		if err != nil {
			cb("", tag, err)
			return
		}
		var reply putFileReply
		if err := json.Unmarshal(result, &reply); err != nil {
			cb("", tag, fmt.Errorf("decode put_file reply: %w", err))
			return
		}
		if reply.Digest == "" {
			cb("", tag, fmt.Errorf("put_file reply carried no digest"))
			return
		}
		cb(reply.Digest, tag, nil)
	})
}

func (r *RPCStore) Get(ctx context.Context, digest string) ([]byte, error) {
	result, err := r.pool.Call(ctx, r.coord, "get_file", getFileArgs{Digest: digest})
	if err != nil {
		return nil, err
	}
	var reply getFileReply
	if err := json.Unmarshal(result, &reply); err != nil {
		return nil, fmt.Errorf("decode get_file reply: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(reply.BinaryData)
	if err != nil {
		return nil, fmt.Errorf("decode get_file payload: %w", err)
	}
	return data, nil
}
