package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"csms/actions"
	"csms/common"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// CommandServer answers common.Command requests published on a request/reply subject
type CommandServer struct {
	conn     conn
	subject  string
	handlers map[string]actions.Handler
	timeout  time.Duration
	validate *validator.Validate
	log      *logrus.Entry

	sub *nats.Subscription
}

func NewCommandServer(nc conn, subject string, handlers map[string]actions.Handler, timeout time.Duration, l *logrus.Entry) *CommandServer {
	if subject == "" {
		subject = "request"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &CommandServer{
		conn:     nc,
		subject:  subject,
		handlers: handlers,
		timeout:  timeout,
		validate: validator.New(),
		log:      l.WithField("component", "nats"),
	}
}

func (c *CommandServer) Timeout() time.Duration {
	return c.timeout
}

func (c *CommandServer) Start() error {
	sub, err := c.conn.Subscribe(c.subject, func(m *nats.Msg) {
		if err := m.Respond(c.handleRequest(m.Data)); err != nil {
			c.log.WithError(err).Error("failed to respond")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.subject, err)
	}

	c.sub = sub
	c.log.WithField("subject", c.subject).Info("listening for commands")
	return nil
}

func (c *CommandServer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

// handleRequest runs a command and returns the encoded common.Response
func (c *CommandServer) handleRequest(data []byte) []byte {
	var command common.Command

	if err := json.Unmarshal(data, &command); err != nil {
		return c.reply(common.Response{Err: common.Errorf(common.InvalidArgument, "Command is not valid JSON")})
	}

	if err := c.validate.Struct(&command); err != nil {
		return c.reply(common.Response{Err: common.Errorf(common.InvalidArgument, "Command is not valid: %v", err)})
	}

	fn, exists := c.handlers[command.Action]
	if !exists {
		return c.reply(common.Response{Err: common.Errorf(common.NotFound, "Action %q does not exist", command.Action)})
	}

	payload, err := json.Marshal(command.Payload)
	if err != nil {
		return c.reply(common.Response{Err: common.Errorf(common.InvalidArgument, "Payload is not valid")})
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	responses := make(chan common.Response, 1)
	go func() {
		res, err := fn(ctx, command.ChargerID, payload)
		responses <- response(res, err)
	}()

	l := c.log.WithFields(logrus.Fields{"client": command.ChargerID, "action": command.Action})

	select {
	case res := <-responses:
		if res.Err != nil {
			l.WithField("code", res.Err.Code).Info(res.Err.Message)
		}
		return c.reply(res)
	case <-ctx.Done():
		l.Warn("command timed out")
		return c.reply(common.Response{Err: common.Errorf(common.DeadlineExceeded, "Request timed out after %s", c.timeout)})
	}
}

func response(payload interface{}, err error) common.Response {
	if err == nil {
		return common.Response{Payload: payload}
	}

	var cerr *common.Error
	if !errors.As(err, &cerr) {
		cerr = common.Errorf(common.Internal, "%v", err)
	}
	return common.Response{Err: cerr}
}

func (c *CommandServer) reply(res common.Response) []byte {
	bt, err := json.Marshal(res)
	if err != nil {
		c.log.WithError(err).Error("failed to encode response")
		bt, _ = json.Marshal(common.Response{Err: common.Errorf(common.Internal, "failed to encode response")})
	}
	return bt
}
