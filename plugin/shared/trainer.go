package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

const TrainerPluginName = "trainer"

// Handshake is shared by the host and trainer plugin binaries. It is a UX
// check that the plugin was launched by the host, not a security measure.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DETECTION_TRAINER_PLUGIN",
	MagicCookieValue: "b5c1d6e0-detection-trainer",
}

var PluginMap = map[string]plugin.Plugin{
	TrainerPluginName: &TrainerPlugin{},
}

// TrainArgs is the wire form of a training request.
type TrainArgs struct {
	Model   string
	Data    string
	Epochs  int
	Batch   int
	ImgSize int
	Device  string
	Name    string
	Project string
	Verbose bool
	Extra   map[string]string
}

// Trainer is the interface exposed by a trainer plugin.
type Trainer interface {
	Train(args TrainArgs) error
}

// TrainerPlugin implements plugin.Plugin over net/rpc.
type TrainerPlugin struct {
	Impl Trainer
}

func (p *TrainerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (TrainerPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}
