package notify

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "callrouter.v1.Notifications"

const watchMethod = "/" + ServiceName + "/Watch"

// NotificationsServer is the server API of the notifications service.
type NotificationsServer interface {
	// Watch streams every session event, starting with the live sessions.
	Watch(req *emptypb.Empty, stream grpc.ServerStream) error
}

// ServiceDesc describes the notifications service. Messages are plain
// google.protobuf types so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NotificationsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "callrouter/v1/notifications.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(NotificationsServer).Watch(req, stream)
}

// Register attaches the hub to a gRPC server.
func Register(s grpc.ServiceRegistrar, h *Hub) {
	s.RegisterService(&ServiceDesc, h)
}

// Watch implements NotificationsServer.
func (h *Hub) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	w, err := h.addWatcher()
	if err != nil {
		return err
	}
	defer h.removeWatcher(w)

	h.logger.Info("[Notify] Stream watcher connected")
	defer h.logger.Info("[Notify] Stream watcher disconnected")

	ctx := stream.Context()
	for {
		select {
		case msg := <-w.send:
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-w.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// WatchClient receives notifications from a remote hub.
type WatchClient struct {
	stream grpc.ClientStream
}

// Watch opens a notifications stream on conn.
func Watch(ctx context.Context, conn grpc.ClientConnInterface) (*WatchClient, error) {
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], watchMethod)
	if err != nil {
		return nil, fmt.Errorf("open watch stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, fmt.Errorf("send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close watch request: %w", err)
	}
	return &WatchClient{stream: stream}, nil
}

// Recv blocks for the next notification. It returns io.EOF when the server
// ends the stream.
func (c *WatchClient) Recv() (Message, error) {
	st := new(structpb.Struct)
	if err := c.stream.RecvMsg(st); err != nil {
		return Message{}, err
	}
	return Message{
		Event: st.GetFields()["event"].GetStringValue(),
		Data:  st.GetFields()["data"].AsInterface(),
	}, nil
}
