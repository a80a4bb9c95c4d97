package main

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rtmvideo/rtm-client-go/rtm"
)

// record is one NDJSON line of the recording: the source, the channel
// position the message was delivered at, and the raw payload.
type record struct {
	Source   string          `json:"source"`
	Position string          `json:"position"`
	Received time.Time       `json:"received"`
	Message  json.RawMessage `json:"message"`
}

// recorder subscribes to the configured channels and filters and appends one
// JSON line per delivered message. Data callbacks arrive on the client's
// event loop; Close may race with them, hence the mutex.
type recorder struct {
	client rtm.Subscriber
	logger *zap.Logger

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	lines  uint64
}

func newRecorder(client rtm.Subscriber, path string, logger *zap.Logger) (*recorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &recorder{
		client: client,
		logger: logger,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// subscribeAll issues one subscription per configured channel and filter.
func (r *recorder) subscribeAll(config *recorderConfig) {
	options := rtm.SubscriptionOptions{FastForward: config.FastForward}
	if config.HistoryCount > 0 {
		count := config.HistoryCount
		options.History.Count = &count
	}
	for _, channel := range config.Channels {
		handle := r.client.SubscribeChannel(channel, options, r.callbacksFor(channel))
		r.logger.Info("subscribed", zap.String("channel", channel), zap.String("handle", string(handle)))
	}
	for _, filter := range config.Filters {
		handle := r.client.SubscribeFilter(filter, options, r.callbacksFor(filter))
		r.logger.Info("subscribed", zap.String("filter", filter), zap.String("handle", string(handle)))
	}
}

func (r *recorder) callbacksFor(source string) rtm.SubscriptionCallbackFuncs {
	return rtm.SubscriptionCallbackFuncs{
		Data: func(handle rtm.SubscriptionHandle, message rtm.Message) {
			r.append(source, r.client.Position(handle), message)
		},
		Error: func(condition rtm.ErrorCondition) {
			r.logger.Warn("subscription error",
				zap.String("source", source), zap.Error(condition))
		},
	}
}

func (r *recorder) append(source string, position rtm.ChannelPosition, message rtm.Message) {
	line, err := json.Marshal(record{
		Source:   source,
		Position: position.String(),
		Received: time.Now().UTC(),
		Message:  message,
	})
	if err != nil {
		r.logger.Warn("dropping unencodable message", zap.String("source", source), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return
	}
	if _, err := r.writer.Write(append(line, '\n')); err != nil {
		r.logger.Error("write failed", zap.Error(err))
		return
	}
	r.lines++
}

func (r *recorder) recorded() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines
}

// Close flushes and closes the output. Appends after Close are dropped.
func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	flushErr := r.writer.Flush()
	closeErr := r.file.Close()
	r.writer = nil
	r.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
