package reconcile_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/formatter"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/reconcile"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/store"
)

var _ = Describe("Reconciler", func() {
	var (
		ctx      context.Context
		counter  *mockCounter
		notifier *mockNotifier
		bus      *mockBus
		review   *mockReviewSink
		ledger   *store.MemoryLedger
		cfg      reconcile.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		counter = &mockCounter{}
		notifier = &mockNotifier{}
		bus = &mockBus{}
		review = &mockReviewSink{}
		ledger = store.NewMemoryLedger()
		cfg = reconcile.Config{}
	})

	newReconciler := func() *reconcile.Reconciler {
		d := reconcile.NewDispatcher(ledger, notifier, bus, review)
		return reconcile.NewReconciler(counter, ledger, d, cfg)
	}

	landed := func(n int) {
		counter.countFn = func(context.Context, string) (int, error) { return n, nil }
	}

	status := func(count int) model.StatusMessage {
		return model.StatusMessage{IngestionID: "abc", Count: count, SubmittedAt: time.Now()}
	}

	Context("when every event has landed", func() {
		It("notifies once and does not republish", func() {
			landed(5)

			out, err := newReconciler().Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(reconcile.Outcome{State: reconcile.Finished, Notified: true}))
			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].State).To(Equal("finished"))
			Expect(notifier.sent[0].Text).To(ContainSubstring("The ingestion job has finished!"))
			Expect(bus.queued).To(BeEmpty())
		})

		It("sends no second notification when the status is redelivered", func() {
			landed(5)
			r := newReconciler()

			_, err := r.Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			out, err := r.Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())

			Expect(out.Skipped).To(BeTrue())
			Expect(out.State).To(Equal(reconcile.Finished))
			Expect(notifier.sent).To(HaveLen(1))
			Expect(counter.calls).To(Equal(1))
		})

		It("keeps the decision when the notification fails", func() {
			landed(5)
			notifier.notifyFn = func(context.Context, model.Notification) error { return errors.New("webhook 500") }
			r := newReconciler()

			out, err := r.Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Notified).To(BeFalse())

			state, found, _ := ledger.Lookup(ctx, "abc")
			Expect(found).To(BeTrue())
			Expect(state).To(Equal(reconcile.LifecycleFinished))

			out, err = r.Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Skipped).To(BeTrue())
			Expect(notifier.sent).To(HaveLen(1))
		})
	})

	Context("when some events are missing", func() {
		It("republishes with the observed count and the next attempt", func() {
			landed(3)

			out, err := newReconciler().Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(reconcile.Outcome{State: reconcile.InProgress, Republished: true}))
			Expect(notifier.sent).To(BeEmpty())

			Expect(bus.queued).To(HaveLen(1))
			next := bus.queued[0]
			Expect(next.IngestionID).To(Equal("abc"))
			Expect(next.Count).To(Equal(5))
			Expect(*next.CurrentCount).To(Equal(3))
			Expect(next.Attempt).To(Equal(1))
		})

		It("returns the bus error so the delivery is retried", func() {
			landed(3)
			bus.publishFn = func(context.Context, model.StatusMessage) error { return errors.New("redis down") }

			_, err := newReconciler().Pass(ctx, status(5))
			Expect(err).To(MatchError(ContainSubstring("redis down")))
		})
	})

	Context("when the count query fails", func() {
		It("returns the error and takes no action", func() {
			counter.countFn = func(context.Context, string) (int, error) { return 0, errors.New("pg timeout") }

			_, err := newReconciler().Pass(ctx, status(5))
			Expect(err).To(MatchError(ContainSubstring("pg timeout")))
			Expect(notifier.sent).To(BeEmpty())
			Expect(bus.queued).To(BeEmpty())
			_, found, _ := ledger.Lookup(ctx, "abc")
			Expect(found).To(BeFalse())
		})
	})

	Context("when more events landed than were sent", func() {
		It("parks the batch for review and notifies once", func() {
			landed(7)
			r := newReconciler()

			out, err := r.Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(reconcile.Outcome{State: reconcile.Unclassified, Parked: true, Notified: true}))
			Expect(review.parked).To(HaveLen(1))
			Expect(review.parked[0].state).To(Equal(reconcile.LifecycleNeedsReview))
			Expect(*review.parked[0].msg.CurrentCount).To(Equal(7))
			Expect(notifier.sent).To(HaveLen(1))
			Expect(bus.queued).To(BeEmpty())

			out, err = r.Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Skipped).To(BeTrue())
			Expect(review.parked).To(HaveLen(1))
			Expect(notifier.sent).To(HaveLen(1))
		})

		It("retries without notifying when parking fails", func() {
			landed(7)
			review.parkFn = func(context.Context, model.StatusMessage, string, string) error { return errors.New("dlq down") }

			_, err := newReconciler().Pass(ctx, status(5))
			Expect(err).To(HaveOccurred())
			Expect(notifier.sent).To(BeEmpty())
			_, found, _ := ledger.Lookup(ctx, "abc")
			Expect(found).To(BeFalse())
		})
	})

	Context("when the ledger already holds a decision", func() {
		DescribeTable("skips the pass without counting or acting",
			func(recorded string, want reconcile.State) {
				claimed, err := ledger.Claim(ctx, "abc", recorded)
				Expect(err).NotTo(HaveOccurred())
				Expect(claimed).To(BeTrue())

				out, err := newReconciler().Pass(ctx, status(5))
				Expect(err).NotTo(HaveOccurred())
				Expect(out).To(Equal(reconcile.Outcome{State: want, Skipped: true}))
				Expect(counter.calls).To(BeZero())
				Expect(notifier.sent).To(BeEmpty())
				Expect(bus.queued).To(BeEmpty())
				Expect(review.parked).To(BeEmpty())
			},
			Entry("finished", reconcile.LifecycleFinished, reconcile.Finished),
			Entry("needs review", reconcile.LifecycleNeedsReview, reconcile.Unclassified),
			Entry("stalled", reconcile.LifecycleStalled, reconcile.Stalled),
		)
	})

	Context("when the ledger fails after the batch was parked", func() {
		It("parks the same batch again on retry and notifies once", func() {
			landed(7)
			flaky := &flakyLedger{Ledger: ledger, claimErrs: 1}
			d := reconcile.NewDispatcher(flaky, notifier, bus, review)
			r := reconcile.NewReconciler(counter, flaky, d, cfg)

			_, err := r.Pass(ctx, status(5))
			Expect(err).To(MatchError(ContainSubstring("ledger unavailable")))
			Expect(notifier.sent).To(BeEmpty())

			out, err := r.Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(reconcile.Outcome{State: reconcile.Unclassified, Parked: true, Notified: true}))
			Expect(notifier.sent).To(HaveLen(1))

			// the sink keys its entry on the batch, so the second park is a no-op
			Expect(review.parked).To(HaveLen(2))
			Expect(review.parked[0].msg.IngestionID).To(Equal(review.parked[1].msg.IngestionID))
		})
	})

	Context("when a republished status is delivered twice", func() {
		It("lets both copies run but notifies once", func() {
			landed(3)
			r := newReconciler()

			_, err := r.Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			msg, ok := bus.next()
			Expect(ok).To(BeTrue())

			landed(5)
			for range 2 {
				_, err := r.Pass(ctx, msg)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(notifier.sent).To(HaveLen(1))
			Expect(bus.queued).To(BeEmpty())
		})
	})

	Context("with a stall bound", func() {
		It("gives up after MaxAttempts in-progress passes", func() {
			cfg.MaxAttempts = 3
			landed(1)
			r := newReconciler()

			msg := status(5)
			for range 2 {
				out, err := r.Pass(ctx, msg)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.State).To(Equal(reconcile.InProgress))
				msg, _ = bus.next()
			}

			out, err := r.Pass(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(reconcile.Stalled))
			Expect(out.Parked).To(BeTrue())
			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].Text).To(ContainSubstring("hasn't finished yet"))
			Expect(bus.queued).To(BeEmpty())
		})

		It("gives up on batches older than MaxAge", func() {
			cfg.MaxAge = time.Hour
			landed(1)
			msg := status(5)
			msg.SubmittedAt = time.Now().Add(-2 * time.Hour)

			out, err := newReconciler().Pass(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(reconcile.Stalled))
		})

		It("never stalls a finished batch", func() {
			cfg.MaxAttempts = 1
			landed(5)

			out, err := newReconciler().Pass(ctx, status(5))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(reconcile.Finished))
		})
	})

	Context("end to end", func() {
		It("follows a two-event batch from submission to one notification", func() {
			session := formatter.NewSession()
			events := []model.Event{}
			for _, line := range []string{
				"Prague,POINT (14.49 50.00),POINT (14.43 50.04),2018-05-28 09:03:40,funny_car",
				"Turin,POINT (7.51 45.04),POINT (7.66 45.02),2018-05-21 02:54:04,baba_car",
			} {
				ev, err := session.FromCSV(line)
				Expect(err).NotTo(HaveOccurred())
				events = append(events, ev)
			}
			for _, ev := range events {
				Expect(ev.IngestionID).To(Equal(session.IngestionID()))
			}

			observed := []int{1, 2}
			counter.countFn = func(_ context.Context, id string) (int, error) {
				Expect(id).To(Equal(session.IngestionID()))
				n := observed[0]
				observed = observed[1:]
				return n, nil
			}
			r := newReconciler()

			out, err := r.Pass(ctx, session.Status(len(events)))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(reconcile.InProgress))
			Expect(notifier.sent).To(BeEmpty())

			msg, ok := bus.next()
			Expect(ok).To(BeTrue())
			Expect(msg.Count).To(Equal(2))
			Expect(msg.Observed()).To(Equal(1))

			out, err = r.Pass(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(reconcile.Finished))
			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].IngestionID).To(Equal(session.IngestionID()))
			Expect(notifier.sent[0].Text).To(ContainSubstring("*Expected Count of Events:* 2 \n*Current Count of Events:* 2"))

			_, more := bus.next()
			Expect(more).To(BeFalse())
		})
	})
})
