package shared

import (
	"net/rpc"
)

// RPCClient is an implementation of Trainer that talks over RPC.
type RPCClient struct{ client *rpc.Client }

func (m *RPCClient) Train(args TrainArgs) error {
	var resp bool
	return m.client.Call("Plugin.Train", args, &resp)
}

// Here is the RPC server that RPCClient talks to, conforming to
// the requirements of net/rpc
type RPCServer struct {
	// This is the real implementation
	Impl Trainer
}

func (m *RPCServer) Train(args TrainArgs, resp *bool) error {
	err := m.Impl.Train(args)
	*resp = err == nil
	return err
}
