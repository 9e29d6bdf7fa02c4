// Copyright 2025 Consentry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventbus provides a lightweight publish-subscribe event bus for
// decoupled communication between discovery, audit, and handle components.
package eventbus

import (
	"sync"
)

// defaultBufferSize is the per-subscriber channel capacity used when the
// configured size is missing or invalid.
const defaultBufferSize = 10000

// Event is one message on the bus. The payload type is a contract
// between the topic's publishers and subscribers.
type Event struct {
	Payload any
}

// EventChan delivers events to one subscriber.
type EventChan chan Event

// EventBus fans events out to per-topic subscriber channels.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]EventChan
	bufferSize  int
}

func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &EventBus{
		subscribers: make(map[string][]EventChan),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber on the topic and returns its
// receive channel.
func (eb *EventBus) Subscribe(topic string) EventChan {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	ch := make(EventChan, eb.bufferSize)
	eb.subscribers[topic] = append(eb.subscribers[topic], ch)
	return ch
}

// Unsubscribe drops the subscriber from the topic and closes its
// channel. Unknown topics and channels are ignored.
func (eb *EventBus) Unsubscribe(topic string, ch EventChan) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscribers, ok := eb.subscribers[topic]
	if !ok {
		return
	}
	found := false
	kept := make([]EventChan, 0, len(subscribers))
	for _, subscriber := range subscribers {
		if subscriber == ch {
			found = true
			continue
		}
		kept = append(kept, subscriber)
	}
	if !found {
		return
	}
	if len(kept) == 0 {
		delete(eb.subscribers, topic)
	} else {
		eb.subscribers[topic] = kept
	}
	close(ch)
}

// Publish sends the event to every subscriber of the topic. Delivery is
// asynchronous; a subscriber that unsubscribes mid-flight loses the
// event instead of crashing the publisher.
func (eb *EventBus) Publish(topic string, event Event) {
	eb.mu.RLock()
	subscribers := make([]EventChan, len(eb.subscribers[topic]))
	copy(subscribers, eb.subscribers[topic])
	eb.mu.RUnlock()

	for _, subscriber := range subscribers {
		go func(sub EventChan) {
			defer func() {
				// Send on a channel closed by Unsubscribe panics.
				recover() //nolint:errcheck
			}()
			sub <- event
		}(subscriber)
	}
}
