package runtime

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/robotflow/internal/runtime/logging"
	transportpkg "github.com/drblury/robotflow/internal/runtime/transport"
)

const defaultRouterHandlerName = "robot"

// RouterConfig binds a robot to a request topic and a response topic.
type RouterConfig struct {
	HandlerName   string
	RequestTopic  string
	ResponseTopic string
	Transport     transportpkg.Transport
}

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// NewRouter returns a Watermill router that answers every envelope published
// on cfg.RequestTopic with the encoded response on cfg.ResponseTopic.
func NewRouter(robot *Robot, cfg RouterConfig) (*message.Router, error) {
	if robot == nil {
		return nil, errspkg.ErrRobotRequired
	}
	if cfg.RequestTopic == "" || cfg.ResponseTopic == "" {
		return nil, errors.New("robotflow: request and response topics are required")
	}
	if cfg.Transport.Publisher == nil || cfg.Transport.Subscriber == nil {
		return nil, errors.New("robotflow: transport publisher and subscriber are required")
	}
	if cfg.HandlerName == "" {
		cfg.HandlerName = defaultRouterHandlerName
	}

	handler, err := NewMessageHandler(robot)
	if err != nil {
		return nil, err
	}
	router, err := message.NewRouter(message.RouterConfig{}, loggingpkg.NewWatermillAdapter(robot.Logger))
	if err != nil {
		return nil, err
	}
	router.AddHandler(
		cfg.HandlerName,
		cfg.RequestTopic,
		cfg.Transport.Subscriber,
		cfg.ResponseTopic,
		cfg.Transport.Publisher,
		handler,
	)
	return router, nil
}

// Serve runs a router for robot until ctx is cancelled.
func Serve(ctx context.Context, robot *Robot, cfg RouterConfig) error {
	router, err := NewRouter(robot, cfg)
	if err != nil {
		return err
	}
	return routerRun(router, ctx)
}
