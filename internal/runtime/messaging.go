package runtime

import (
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
	idspkg "github.com/drblury/robotflow/internal/runtime/ids"
)

// Metadata keys set on response messages.
const (
	MetadataCorrelationID = "correlation_id"
	MetadataRequestUUID   = "robotflow_request_uuid"
	MetadataContentType   = "content_type"
)

const contentTypeJSON = "application/json"

// NewMessageHandler exposes the robot as a Watermill handler. Every message
// payload is one request envelope; the encoded response is returned as a
// single message for the router to publish. Decode failures, sink misuse and
// timeouts are returned as handler errors.
func NewMessageHandler(robot *Robot) (message.HandlerFunc, error) {
	if robot == nil {
		return nil, errspkg.ErrRobotRequired
	}
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := robot.ProcessContext(msg.Context(), msg.Payload)
		if err != nil {
			return nil, err
		}

		reply := message.NewMessage(idspkg.NewRunID(), out)
		reply.Metadata.Set(MetadataRequestUUID, msg.UUID)
		reply.Metadata.Set(MetadataContentType, contentTypeJSON)
		correlationID := msg.Metadata.Get(MetadataCorrelationID)
		if correlationID == "" {
			correlationID = msg.UUID
		}
		reply.Metadata.Set(MetadataCorrelationID, correlationID)
		return []*message.Message{reply}, nil
	}, nil
}
