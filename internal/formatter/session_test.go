package formatter_test

import (
	"errors"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/formatter"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

var _ = Describe("Session", func() {
	var s formatter.Session

	BeforeEach(func() {
		s = formatter.NewSession()
	})

	It("issues a uuid per session", func() {
		_, err := uuid.Parse(s.IngestionID())
		Expect(err).NotTo(HaveOccurred())
		Expect(formatter.NewSession().IngestionID()).NotTo(Equal(s.IngestionID()))
	})

	Describe("FromCSV", func() {
		It("maps the five fields in order", func() {
			ev, err := s.FromCSV("Prague,POINT (14.49 50.00),POINT (14.43 50.04),2018-05-28 09:03:40,funny_car")
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).To(Equal(model.Event{
				Region:           "Prague",
				OriginCoord:      "POINT (14.49 50.00)",
				DestinationCoord: "POINT (14.43 50.04)",
				Datetime:         "2018-05-28 09:03:40",
				Datasource:       "funny_car",
				IngestionID:      s.IngestionID(),
			}))
		})

		It("trims the trailing newline", func() {
			ev, err := s.FromCSV("Turin,a,b,2018-05-21 02:54:04,baba_car\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.Datasource).To(Equal("baba_car"))
		})

		DescribeTable("rejects lines without exactly five fields",
			func(line string, fields int) {
				_, err := s.FromCSV(line)
				Expect(errors.Is(err, formatter.ErrMalformedRecord)).To(BeTrue())
				var perr *formatter.ParseError
				Expect(errors.As(err, &perr)).To(BeTrue())
				Expect(perr.Fields).To(Equal(fields))
			},
			Entry("four fields", "Turin,a,b,2018-05-21", 4),
			Entry("six fields", "Turin,a,b,2018-05-21,x,y", 6),
			Entry("single field", "Turin", 1),
		)
	})

	Describe("ReadCSV", func() {
		It("skips the header and trailing blank lines", func() {
			in := "region,origin_coord,destination_coord,datetime,datasource\n" +
				"Hamburg,a,b,2018-05-01 00:00:00,cheap_mobile\n" +
				"Turin,c,d,2018-05-02 00:00:00,baba_car\n" +
				"\n" +
				"   \n"

			events, err := s.CollectCSV(strings.NewReader(in), 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].Region).To(Equal("Hamburg"))
			Expect(events[1].Region).To(Equal("Turin"))
		})

		It("rejects a blank line between records", func() {
			in := "Hamburg,a,b,2018-05-01 00:00:00,cheap_mobile\n" +
				"\n" +
				"\n" +
				"Turin,c,d,2018-05-02 00:00:00,baba_car\n"

			events, err := s.CollectCSV(strings.NewReader(in), 0)
			Expect(events).To(BeNil())
			Expect(err).To(MatchError(formatter.ErrMalformedRecord))
			var perr *formatter.ParseError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Line).To(Equal(2))
			Expect(perr.Fields).To(Equal(1))
		})

		It("reports the line number of a malformed line and stops", func() {
			in := "Hamburg,a,b,2018-05-01 00:00:00,cheap_mobile\nbroken\nTurin,c,d,e,f\n"

			var seen int
			var last error
			for _, err := range s.ReadCSV(strings.NewReader(in), 0) {
				if err != nil {
					last = err
					continue
				}
				seen++
			}
			Expect(seen).To(Equal(1))
			var perr *formatter.ParseError
			Expect(errors.As(last, &perr)).To(BeTrue())
			Expect(perr.Line).To(Equal(2))
		})

		It("returns nothing from CollectCSV when any line is bad", func() {
			events, err := s.CollectCSV(strings.NewReader("a,b,c,d,e\nbad\n"), 0)
			Expect(err).To(HaveOccurred())
			Expect(events).To(BeNil())
		})
	})

	Describe("FromRecords", func() {
		It("yields events lazily in order", func() {
			pulled := 0
			records := func(yield func(model.Record) bool) {
				for _, region := range []string{"Prague", "Turin", "Hamburg"} {
					pulled++
					if !yield(model.Record{Region: region}) {
						return
					}
				}
			}

			next, stop := iter.Pull(s.FromRecords(records))
			defer stop()

			ev, ok := next()
			Expect(ok).To(BeTrue())
			Expect(ev.Region).To(Equal("Prague"))
			Expect(ev.IngestionID).To(Equal(s.IngestionID()))
			Expect(pulled).To(Equal(1))

			ev, _ = next()
			Expect(ev.Region).To(Equal("Turin"))
			Expect(pulled).To(Equal(2))
		})

		It("yields nothing for an empty source", func() {
			Expect(slices.Collect(s.FromRecords(slices.Values([]model.Record(nil))))).To(BeEmpty())
		})
	})

	Describe("Status", func() {
		It("carries the session id and the submitted count", func() {
			opened := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			s := formatter.SessionFromID("abc", opened)

			st := s.Status(1000)
			Expect(st.IngestionID).To(Equal("abc"))
			Expect(st.Count).To(Equal(1000))
			Expect(st.CurrentCount).To(BeNil())
			Expect(st.Attempt).To(BeZero())
			Expect(st.SubmittedAt).To(Equal(opened))
		})

		It("allows a zero count", func() {
			Expect(s.Status(0).Count).To(BeZero())
		})
	})
})
