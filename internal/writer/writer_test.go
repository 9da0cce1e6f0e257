package writer_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/worker"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/writer"
)

type mockConsumer struct {
	mu     sync.Mutex
	batch  []queue.Message
	served bool
	acked  []string
	dlq    []string
}

func (m *mockConsumer) Read(context.Context) ([]queue.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.served {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}
	m.served = true
	return m.batch, nil
}

func (m *mockConsumer) Ack(_ context.Context, msgs ...queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.acked = append(m.acked, msg.ID)
	}
	return nil
}

func (m *mockConsumer) Requeue(context.Context, queue.Message, string) error { return nil }

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, msg.ID)
	return nil
}

func (m *mockConsumer) state() (acked, dlq []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...), append([]string(nil), m.dlq...)
}

type mockTrips struct {
	mu       sync.Mutex
	insertFn func(trips []model.Trip) (int64, error)
	landed   []model.Trip
}

func (m *mockTrips) Insert(_ context.Context, trips []model.Trip) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertFn != nil {
		return m.insertFn(trips)
	}
	m.landed = append(m.landed, trips...)
	return int64(len(trips)), nil
}

func (m *mockTrips) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.landed)
}

func eventMessage(id string, ev model.Event) queue.Message {
	b, err := queue.EncodeEvent(ev)
	Expect(err).NotTo(HaveOccurred())
	return queue.Message{ID: id, Values: map[string]any{queue.EventField: string(b)}, Delivery: 1}
}

var _ = Describe("Writer", func() {
	var (
		consumer *mockConsumer
		trips    *mockTrips
	)

	BeforeEach(func() {
		consumer = &mockConsumer{}
		trips = &mockTrips{}
	})

	run := func(w *writer.Writer) {
		done := make(chan error, 1)
		go func() { done <- w.Run(context.Background()) }()
		DeferCleanup(func() {
			w.Stop()
			Eventually(done, 3*time.Second).Should(Receive(BeNil()))
		})
	}

	It("lands a read in one insert and acks it", func() {
		consumer.batch = []queue.Message{
			eventMessage("1-0", model.Event{Region: "Prague", IngestionID: "abc"}),
			eventMessage("1-1", model.Event{Region: "Turin", IngestionID: "abc"}),
		}
		run(writer.New(consumer, trips, "trip_events"))

		Eventually(func() []string { a, _ := consumer.state(); return a }).Should(Equal([]string{"1-0", "1-1"}))
		Expect(trips.count()).To(Equal(2))
		Expect(trips.landed[0].StreamMessageID).To(Equal("1-0"))
		Expect(trips.landed[0].IngestionID).To(Equal("abc"))
		Expect(trips.landed[0].ID).NotTo(Equal(trips.landed[1].ID))
	})

	It("dead-letters undecodable entries and lands the rest", func() {
		consumer.batch = []queue.Message{
			{ID: "1-0", Values: map[string]any{queue.EventField: "not json"}, Delivery: 1},
			{ID: "1-1", Values: map[string]any{"other": "x"}, Delivery: 1},
			eventMessage("1-2", model.Event{Region: "Turin", IngestionID: "abc"}),
		}
		run(writer.New(consumer, trips, "trip_events"))

		Eventually(func() []string { a, _ := consumer.state(); return a }).Should(Equal([]string{"1-2"}))
		_, dlq := consumer.state()
		Expect(dlq).To(Equal([]string{"1-0", "1-1"}))
	})

	It("leaves the read pending when the store fails", func() {
		consumer.batch = []queue.Message{eventMessage("1-0", model.Event{Region: "Prague", IngestionID: "abc"})}
		trips.insertFn = func([]model.Trip) (int64, error) { return 0, errors.New("pg down") }
		run(writer.New(consumer, trips, "trip_events"))

		Consistently(func() []string { a, _ := consumer.state(); return a }, 100*time.Millisecond).Should(BeEmpty())
	})

	Describe("HandleOne", func() {
		It("marks undecodable entries as permanent failures", func() {
			w := writer.New(consumer, trips, "trip_events")
			err := w.HandleOne(context.Background(), queue.Message{ID: "1-0", Values: map[string]any{}})
			Expect(errors.Is(err, worker.ErrPermanent)).To(BeTrue())
		})

		It("lands a single entry", func() {
			w := writer.New(consumer, trips, "trip_events")
			Expect(w.HandleOne(context.Background(), eventMessage("1-0", model.Event{IngestionID: "abc"}))).To(Succeed())
			Expect(trips.count()).To(Equal(1))
		})
	})
})
