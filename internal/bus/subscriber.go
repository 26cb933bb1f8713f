package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// reconnectJitterMin and reconnectJitterMax bound the random sleep taken
// before reopening the subscriber socket after an inactivity timeout or a
// connection error, per spec.md §4.2 ("a random 1-10s sleep is taken").
const (
	reconnectJitterMin = 1 * time.Second
	reconnectJitterMax = 10 * time.Second
)

// Subscriber connects to the broadcaster, subscribes to a topic prefix, and
// delivers frames whose topic exactly matches expectedTopic — the transport
// only guarantees prefix matching, so exact equality must be re-checked on
// every frame (spec.md §4.2, P6).
type Subscriber struct {
	dialURL           string
	expectedTopic     string
	inactivityTimeout time.Duration
	logger            *zap.Logger
}

// NewSubscriber builds a Subscriber. dialURL is the broadcaster's websocket
// endpoint; expectedTopic is the exact topic frames must carry to be
// delivered (e.g. bus.BroadcastTopic(apiKey)).
func NewSubscriber(dialURL, expectedTopic string, inactivityTimeout time.Duration, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		dialURL:           dialURL,
		expectedTopic:     expectedTopic,
		inactivityTimeout: inactivityTimeout,
		logger:            logger.Named("bus.subscriber"),
	}
}

// Run connects and delivers matching frames to handle until ctx is
// cancelled. Connection errors and inactivity timeouts are not fatal: Run
// reconnects after a random jitter sleep and resumes on the same topic, per
// spec.md §4.2 step 6 ("a frame sent afterwards is still delivered").
func (s *Subscriber) Run(ctx context.Context, handle func(Frame)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.runOnce(ctx, handle); err != nil {
			s.logger.Warn("subscriber connection ended, reconnecting", zap.Error(err))
		}

		if err := sleepJitter(ctx); err != nil {
			return err
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context, handle func(Frame)) error {
	dialURL, err := subscribeURL(s.dialURL, s.expectedTopic)
	if err != nil {
		return fmt.Errorf("bus: building subscribe url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("bus: dial %s: %w", dialURL, err)
	}
	defer conn.Close()

	s.logger.Info("subscriber connected", zap.String("topic", s.expectedTopic))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.inactivityTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.inactivityTimeout)); err != nil {
				return fmt.Errorf("bus: set read deadline: %w", err)
			}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Info("subscriber inactivity timeout, reconnecting")
				return nil
			}
			return fmt.Errorf("bus: read: %w", err)
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		// P6: the broadcaster only guarantees prefix matching, so discard
		// anything that isn't an exact topic match.
		if frame.Topic != s.expectedTopic {
			s.logger.Debug("dropping frame with mismatched topic",
				zap.String("got", frame.Topic), zap.String("want", s.expectedTopic))
			continue
		}

		handle(frame)
	}
}

// subscribeURL appends the subscription topic as a query parameter, the
// handshake-time equivalent of a ZeroMQ prefix SUBSCRIBE.
func subscribeURL(base, topic string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepJitter(ctx context.Context) error {
	d := reconnectJitterMin + time.Duration(rand.Int63n(int64(reconnectJitterMax-reconnectJitterMin)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
