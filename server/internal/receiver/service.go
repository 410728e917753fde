package receiver

import (
	"google.golang.org/grpc"
)

// Service and method names on the wire.
const (
	ServiceName  = "pitwall.telemetry.v1.Ingest"
	StreamMethod = "/" + ServiceName + "/Stream"
)

// Ack answers a finished ingest stream.
type Ack struct {
	Accepted int `json:"accepted"`
	LastLap  int `json:"last_lap"`
}

// IngestServer is the server side of the Ingest service.
type IngestServer interface {
	Stream(grpc.ServerStream) error
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(IngestServer).Stream(stream)
}

// ServiceDesc describes the Ingest service to grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ClientStreams: true,
		},
	},
	Metadata: "pitwall/telemetry/v1/ingest",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ServiceDesc, srv)
}
