package backend

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Bus", func() {
	var bus *Bus

	BeforeEach(func() {
		bus = NewBus()
		DeferCleanup(bus.Close)
	})

	It("delivers only events for the subscribed command", func() {
		sub := bus.Subscribe("a")
		defer sub.Close()

		bus.Publish(Event{CommandID: "b", Kind: EventStdout, Data: "skip"})
		bus.Publish(Event{CommandID: "a", Kind: EventStdout, Data: "keep"})

		var got Event
		Eventually(sub.Events()).Should(Receive(&got))
		Expect(got.Data).To(Equal("keep"))
		Consistently(sub.Events(), 50*time.Millisecond).ShouldNot(Receive())
	})

	It("delivers every command to a blank subscription", func() {
		sub := bus.Subscribe("")
		defer sub.Close()

		bus.Publish(Event{CommandID: "a", Kind: EventStdout})
		bus.Publish(Event{CommandID: "b", Kind: EventStdout})

		var first, second Event
		Eventually(sub.Events()).Should(Receive(&first))
		Eventually(sub.Events()).Should(Receive(&second))
		Expect([]string{first.CommandID, second.CommandID}).To(Equal([]string{"a", "b"}))
	})

	It("never blocks the publisher and keeps order for slow readers", func() {
		sub := bus.Subscribe("slow")
		defer sub.Close()

		const n = 5000
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := range n {
				bus.Publish(Event{CommandID: "slow", Kind: EventStdout, Data: fmt.Sprint(i)})
			}
		}()
		Eventually(done).Should(BeClosed())

		var got []string
		Eventually(func() int {
			for {
				select {
				case ev := <-sub.Events():
					got = append(got, ev.Data)
				default:
					return len(got)
				}
			}
		}).Should(Equal(n))
		for i, data := range got {
			Expect(data).To(Equal(fmt.Sprint(i)))
		}
	})

	It("closes the channel on Close and tolerates repeats", func() {
		sub := bus.Subscribe("x")
		sub.Close()
		sub.Close()
		Eventually(sub.Events()).Should(BeClosed())

		bus.Publish(Event{CommandID: "x"})
	})

	It("ends subscriptions when the bus closes", func() {
		sub := bus.Subscribe("")
		bus.Close()
		Eventually(sub.Events()).Should(BeClosed())

		late := bus.Subscribe("")
		Eventually(late.Events()).Should(BeClosed())
		late.Close()
	})
})

var _ = Describe("Event", func() {
	It("reports terminal kinds", func() {
		Expect(Event{Kind: EventCompleted}.Terminal()).To(BeTrue())
		Expect(Event{Kind: EventError}.Terminal()).To(BeTrue())
		Expect(Event{Kind: EventStdout}.Terminal()).To(BeFalse())
	})
})
