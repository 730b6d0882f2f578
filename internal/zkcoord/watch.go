package zkcoord

import (
	"time"

	"go.uber.org/zap"
)

// WatchProperties fires cb asynchronously whenever the properties at path
// change, at least once with the current snapshot. Watches are re-issued
// after a connection loss: GetW's returned event channel closes (or fires
// a session event) on disconnect, and the loop below simply re-arms it,
// which is what "gracefully re-issue watches after reconnection" (§4.1)
// means for a client built on bare Exists/GetW calls rather than a
// higher-level watch manager.
//
// The returned cancel function stops the watch loop; it does not block
// waiting for the loop goroutine to exit.
func (c *Client) WatchProperties(path string, cb func(Properties)) (cancel func()) {
	stop := make(chan struct{})
	go c.watchLoop(path, cb, stop)
	return func() { close(stop) }
}

func (c *Client) watchLoop(path string, cb func(Properties), stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		data, _, events, err := c.conn.GetW(path)
		if err != nil {
			c.log.Warn("watch: re-arming after error", zap.String("path", path), zap.Error(err))
			select {
			case <-stop:
				return
			case <-time.After(time.Second):
				continue
			}
		}

		props, err := decodeProperties(data)
		if err != nil {
			c.log.Warn("watch: failed to decode properties", zap.String("path", path), zap.Error(err))
			continue
		}
		cb(props)

		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				continue
			}
			c.log.Debug("watch fired", zap.String("path", path), zap.String("type", ev.Type.String()))
		}
	}
}
