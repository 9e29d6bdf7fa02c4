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

package eventbus

import (
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEventBus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "EventBus Suite")
}

// scanTarget mirrors the payload shape discovery plugins publish.
type scanTarget struct {
	URL    string
	Source string
}

var _ = Describe("EventBus", func() {
	var eb *EventBus

	subscriberCount := func(topic string) int {
		eb.mu.RLock()
		defer eb.mu.RUnlock()
		return len(eb.subscribers[topic])
	}

	BeforeEach(func() {
		eb = NewEventBus(100)
	})

	Describe("NewEventBus", func() {
		It("should keep the requested buffer size", func() {
			eb := NewEventBus(50)
			Expect(eb).NotTo(BeNil())
			Expect(eb.bufferSize).To(Equal(50))
			Expect(eb.subscribers).NotTo(BeNil())
		})

		It("should fall back to the default size for zero and negative values", func() {
			Expect(NewEventBus(0).bufferSize).To(Equal(10000))
			Expect(NewEventBus(-10).bufferSize).To(Equal(10000))
		})
	})

	Describe("Subscribe", func() {
		It("should hand out a channel with the configured capacity", func() {
			ch := eb.Subscribe("discovery")
			Expect(ch).NotTo(BeNil())
			Expect(cap(ch)).To(Equal(100))
		})

		It("should let several subscribers share one topic", func() {
			ch1 := eb.Subscribe("report")
			ch2 := eb.Subscribe("report")
			ch3 := eb.Subscribe("report")

			Expect(ch1).NotTo(Equal(ch2))
			Expect(ch2).NotTo(Equal(ch3))
			Expect(subscriberCount("report")).To(Equal(3))
		})

		It("should keep topics separate", func() {
			Expect(eb.Subscribe("discovery")).NotTo(BeNil())
			Expect(eb.Subscribe("report")).NotTo(BeNil())

			eb.mu.RLock()
			Expect(eb.subscribers).To(HaveLen(2))
			eb.mu.RUnlock()
		})
	})

	Describe("Publish", func() {
		It("should deliver to a single subscriber", func() {
			ch := eb.Subscribe("discovery")
			event := Event{Payload: scanTarget{URL: "https://shop.example.com", Source: "Rescan"}}

			eb.Publish("discovery", event)

			var received Event
			Eventually(ch, time.Second).Should(Receive(&received))
			Expect(received.Payload).To(Equal(event.Payload))
		})

		It("should deliver to every subscriber of the topic", func() {
			ch1 := eb.Subscribe("discovery")
			ch2 := eb.Subscribe("discovery")
			ch3 := eb.Subscribe("discovery")

			event := Event{Payload: scanTarget{URL: "https://example.com", Source: "Ingress"}}
			eb.Publish("discovery", event)

			Eventually(ch1, time.Second).Should(Receive(Equal(event)))
			Eventually(ch2, time.Second).Should(Receive(Equal(event)))
			Eventually(ch3, time.Second).Should(Receive(Equal(event)))
		})

		It("should not leak events across topics", func() {
			ch1 := eb.Subscribe("discovery")
			ch2 := eb.Subscribe("report")

			event := Event{Payload: scanTarget{URL: "https://example.com"}}
			eb.Publish("discovery", event)

			Eventually(ch1).Should(Receive(Equal(event)))
			Consistently(ch2, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("should tolerate a topic nobody subscribed to", func() {
			Expect(func() {
				eb.Publish("nonexistent-topic", Event{Payload: "nobody listening"})
			}).NotTo(Panic())
		})

		It("should carry structured payloads through unchanged", func() {
			type scanReport struct {
				URL     string
				Verdict string
				Notes   []string
			}

			ch := eb.Subscribe("report")
			payload := scanReport{
				URL:     "https://example.com",
				Verdict: "violation",
				Notes:   []string{"a", "b", "c"},
			}

			eb.Publish("report", Event{Payload: payload})

			var received Event
			Eventually(ch, time.Second).Should(Receive(&received))
			got := received.Payload.(scanReport)
			Expect(got.URL).To(Equal("https://example.com"))
			Expect(got.Verdict).To(Equal("violation"))
			Expect(got.Notes).To(Equal([]string{"a", "b", "c"}))
		})
	})

	Describe("Unsubscribe", func() {
		It("should drop the subscriber and close its channel", func() {
			ch := eb.Subscribe("discovery")
			eb.Unsubscribe("discovery", ch)

			eb.mu.RLock()
			Expect(eb.subscribers["discovery"]).To(BeEmpty())
			eb.mu.RUnlock()

			Eventually(ch).Should(BeClosed())
		})

		It("should leave the other subscribers in place", func() {
			ch1 := eb.Subscribe("report")
			ch2 := eb.Subscribe("report")
			ch3 := eb.Subscribe("report")

			eb.Unsubscribe("report", ch2)

			eb.mu.RLock()
			subscribers := eb.subscribers["report"]
			eb.mu.RUnlock()

			Expect(subscribers).To(HaveLen(2))
			Expect(subscribers).To(ContainElement(ch1))
			Expect(subscribers).To(ContainElement(ch3))
			Expect(subscribers).NotTo(ContainElement(ch2))
		})

		It("should keep delivering to the subscribers that stayed", func() {
			ch1 := eb.Subscribe("report")
			ch2 := eb.Subscribe("report")
			eb.Unsubscribe("report", ch2)

			event := Event{Payload: scanTarget{URL: "https://example.com", Source: "Service"}}
			eb.Publish("report", event)

			Eventually(ch1, time.Second).Should(Receive(Equal(event)))
			Eventually(ch2).Should(BeClosed())
		})

		It("should ignore a topic that was never subscribed", func() {
			ch := make(EventChan, 10)
			Expect(func() {
				eb.Unsubscribe("non-existent", ch)
			}).NotTo(Panic())
		})

		It("should ignore a channel the topic does not hold", func() {
			eb.Subscribe("discovery")
			foreignCh := make(EventChan, 10)

			Expect(func() {
				eb.Unsubscribe("discovery", foreignCh)
			}).NotTo(Panic())
			Expect(subscriberCount("discovery")).To(Equal(1))
		})
	})

	Describe("concurrency", func() {
		It("should tolerate parallel subscriptions", func() {
			var wg sync.WaitGroup
			channels := make([]EventChan, 100)

			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(idx int) {
					defer wg.Done()
					channels[idx] = eb.Subscribe("concurrent")
				}(i)
			}
			wg.Wait()

			Expect(subscriberCount("concurrent")).To(Equal(100))
		})

		It("should tolerate parallel publishes", func() {
			ch := eb.Subscribe("parallel")
			var wg sync.WaitGroup

			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					eb.Publish("parallel", Event{Payload: id})
				}(i)
			}
			wg.Wait()

			received := make(map[int]bool)
			for i := 0; i < 50; i++ {
				var event Event
				Eventually(ch, 2*time.Second).Should(Receive(&event))
				received[event.Payload.(int)] = true
			}
			Expect(received).To(HaveLen(50))
		})

		It("should tolerate parallel unsubscribes", func() {
			channels := make([]EventChan, 50)
			for i := 0; i < 50; i++ {
				channels[i] = eb.Subscribe("cleanup")
			}

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(ch EventChan) {
					defer wg.Done()
					eb.Unsubscribe("cleanup", ch)
				}(channels[i])
			}
			wg.Wait()

			Expect(subscriberCount("cleanup")).To(BeZero())
		})
	})

	Describe("buffering", func() {
		It("should hold events while the buffer has room", func() {
			ch := eb.Subscribe("buffered")

			for i := 0; i < 50; i++ {
				eb.Publish("buffered", Event{Payload: i})
			}

			received := make(map[int]bool)
			for i := 0; i < 50; i++ {
				var event Event
				Eventually(ch, 2*time.Second).Should(Receive(&event))
				received[event.Payload.(int)] = true
			}
			Expect(received).To(HaveLen(50))
		})
	})

	Describe("edge cases", func() {
		It("should pass a nil payload through", func() {
			ch := eb.Subscribe("nil-test")

			eb.Publish("nil-test", Event{Payload: nil})

			var received Event
			Eventually(ch, time.Second).Should(Receive(&received))
			Expect(received.Payload).To(BeNil())
		})

		It("should treat the empty string as an ordinary topic", func() {
			ch := eb.Subscribe("")
			Expect(ch).NotTo(BeNil())

			event := Event{Payload: "empty topic"}
			eb.Publish("", event)

			Eventually(ch).Should(Receive(Equal(event)))
		})
	})
})
