package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"linkwave/internal/domain/customers"
	"linkwave/internal/domain/services"
	"linkwave/internal/events"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

var sast = time.FixedZone("SAST", 2*60*60)

type MonthlyInvoicesTestSuite struct {
	suite.Suite
	services *fakeServices
	invoices *fakeInvoices
	issuer   *fakeIssuer
	zoho     *fakeZoho
	events   *fakeEvents
	gen      *MonthlyInvoices
	now      time.Time
}

func activeService(id string, day int, price float64) *services.Service {
	return &services.Service{
		ID:           id,
		CustomerID:   "cust-" + id,
		PackageName:  "Fibre 100",
		MonthlyPrice: price,
		BillingDay:   day,
		Status:       services.StatusActive,
		Customer:     &customers.Customer{ID: "cust-" + id, FirstName: "Ayanda", Email: "ayanda@example.test"},
	}
}

func (s *MonthlyInvoicesTestSuite) SetupTest() {
	// 00:30 SAST on the 1st is still the 30th in UTC.
	s.now = time.Date(2025, 7, 1, 0, 30, 0, 0, sast)
	s.services = &fakeServices{list: []*services.Service{
		activeService("a", 1, 599),
		activeService("b", 1, 899.99),
		activeService("c", 15, 499),
	}}
	s.invoices = newFakeInvoices()
	s.issuer = &fakeIssuer{res: NotifyResult{Status: "queued", ZohoSynced: true}}
	s.zoho = &fakeZoho{id: "zi-1"}
	s.events = &fakeEvents{}

	s.gen = NewMonthlyInvoices(s.services, s.invoices, s.issuer, s.zoho, s.events, sast, zap.NewNop().Sugar())
	s.gen.now = func() time.Time { return s.now }
	s.gen.sleep = func(context.Context, time.Duration) {}
}

func TestMonthlyInvoicesTestSuite(t *testing.T) {
	suite.Run(t, new(MonthlyInvoicesTestSuite))
}

func (s *MonthlyInvoicesTestSuite) TestBillsServicesDueToday() {
	sum, err := s.gen.Process(context.Background(), MonthlyBillingOptions{})
	s.Require().NoError(err)

	s.Equal([]int{1}, s.services.days)
	s.Equal("July 2025", sum.Period)
	s.Equal(2, sum.Total)
	s.Equal(2, sum.Created)
	s.Zero(sum.Skipped)
	s.Zero(sum.Failed)

	inv := s.invoices.byID[sum.Results[0].InvoiceID]
	s.Require().NotNil(inv)
	s.Equal(688.85, inv.TotalAmount)
	s.Equal("Fibre 100 - July 2025", inv.LineItems[0].Description)
	s.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), inv.InvoiceDate)
	s.Equal(1034.99, sum.Results[1].Total)

	s.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), s.services.lastDate["a"])
	s.Equal([]string{"inv-1:" + TriggerInvoiceCreated, "inv-2:" + TriggerInvoiceCreated}, s.issuer.calls)
	s.True(sum.Results[0].Notified)
	s.True(sum.Results[0].ZohoSynced)
	s.Equal([]string{events.InvoiceGenerated, events.InvoiceGenerated}, s.events.types())
}

func (s *MonthlyInvoicesTestSuite) TestSecondRunSamePeriodIsSkipped() {
	testCases := []struct {
		Name  string
		Reset func()
	}{
		// last_invoice_date catches the rerun before any write
		{"last invoice date set", func() {}},
		// the unique period index catches it when the date was never stored
		{"last invoice date missing", func() {
			for _, svc := range s.services.list {
				svc.LastInvoiceDate = nil
			}
		}},
	}
	for _, tc := range testCases {
		s.Run(tc.Name, func() {
			s.SetupTest()
			_, err := s.gen.Process(context.Background(), MonthlyBillingOptions{})
			s.Require().NoError(err)
			tc.Reset()

			sum, err := s.gen.Process(context.Background(), MonthlyBillingOptions{})
			s.Require().NoError(err)
			s.Zero(sum.Created)
			s.Equal(2, sum.Skipped)
			s.Contains(sum.Results[0].Reason, "already billed for July 2025")
			s.Len(s.invoices.recurring, 2)
			s.Len(s.issuer.calls, 2)
		})
	}
}

func (s *MonthlyInvoicesTestSuite) TestNextMonthBillsAgain() {
	_, err := s.gen.Process(context.Background(), MonthlyBillingOptions{})
	s.Require().NoError(err)

	s.now = time.Date(2025, 8, 1, 6, 0, 0, 0, sast)
	sum, err := s.gen.Process(context.Background(), MonthlyBillingOptions{})
	s.Require().NoError(err)
	s.Equal(2, sum.Created)
	s.Equal("August 2025", sum.Period)
	s.Len(s.invoices.recurring, 4)
}

func (s *MonthlyInvoicesTestSuite) TestOptions() {
	testCases := []struct {
		Name        string
		Opts        MonthlyBillingOptions
		WantCreated int
		WantPreview int
		WantDay     int
		WantIssuer  int
		WantZoho    int
		WantErr     error
	}{
		{"explicit day", MonthlyBillingOptions{BillingDay: 15}, 1, 0, 15, 1, 0, nil},
		{"customer id must be a uuid", MonthlyBillingOptions{CustomerID: "cust-b"}, 0, 0, 0, 0, 0, ErrInvalidBillingOptions},
		{"dry run writes nothing", MonthlyBillingOptions{DryRun: true}, 0, 2, 1, 0, 0, nil},
		{"skip notify still syncs zoho", MonthlyBillingOptions{SkipNotify: true}, 2, 0, 1, 0, 2, nil},
		{"skip both", MonthlyBillingOptions{SkipNotify: true, SkipZohoSync: true}, 2, 0, 1, 0, 0, nil},
		{"day out of range", MonthlyBillingOptions{BillingDay: 32}, 0, 0, 0, 0, 0, ErrInvalidBillingOptions},
	}
	for _, tc := range testCases {
		s.Run(tc.Name, func() {
			s.SetupTest()
			sum, err := s.gen.Process(context.Background(), tc.Opts)
			if tc.WantErr != nil {
				s.ErrorIs(err, tc.WantErr)
				s.Empty(s.services.days)
				return
			}
			s.Require().NoError(err)

			preview := 0
			for _, r := range sum.Results {
				if r.Status == "preview" {
					preview++
				}
			}
			s.Equal(tc.WantCreated+tc.WantPreview, sum.Created)
			s.Equal(tc.WantPreview, preview)
			s.Equal([]int{tc.WantDay}, s.services.days)
			s.Len(s.issuer.calls, tc.WantIssuer)
			s.Equal(tc.WantZoho, s.zoho.calls)
			if tc.Opts.DryRun {
				s.Empty(s.invoices.recurring)
				s.Empty(s.services.lastDate)
			}
		})
	}
}

func (s *MonthlyInvoicesTestSuite) TestFilterByCustomer() {
	sum, err := s.gen.Process(context.Background(), MonthlyBillingOptions{CustomerID: "6f1c2a8e-1d4b-4c1e-9b59-0c6a8f3d2e10"})
	s.Require().NoError(err)
	s.Zero(sum.Total)

	s.services.list[1].CustomerID = "6f1c2a8e-1d4b-4c1e-9b59-0c6a8f3d2e10"
	sum, err = s.gen.Process(context.Background(), MonthlyBillingOptions{CustomerID: "6f1c2a8e-1d4b-4c1e-9b59-0c6a8f3d2e10"})
	s.Require().NoError(err)
	s.Equal(1, sum.Created)
	s.Equal("b", sum.Results[0].ServiceID)
}

func (s *MonthlyInvoicesTestSuite) TestFailuresAreRecordedPerService() {
	testCases := []struct {
		Name        string
		Break       func()
		WantCreated int
		WantFailed  int
		WantError   string
	}{
		{"insert fails", func() { s.invoices.createErr = errors.New("deadlock detected") }, 0, 2, "deadlock detected"},
		{"notify fails", func() { s.issuer.err = ErrNoRecipient }, 2, 0, "notify: customer has no email address"},
		{"zoho fails inside notify", func() { s.issuer.res = NotifyResult{Status: "queued", ZohoError: "zoho down"} }, 2, 0, "zoho sync: zoho down"},
		{"last invoice date not stored", func() { s.services.setErr = errors.New("timeout") }, 2, 0, "timeout"},
		{"zero price", func() { s.services.list[0].MonthlyPrice = 0; s.services.list[1].MonthlyPrice = 0 }, 0, 0, ""},
	}
	for _, tc := range testCases {
		s.Run(tc.Name, func() {
			s.SetupTest()
			tc.Break()

			sum, err := s.gen.Process(context.Background(), MonthlyBillingOptions{})
			s.Require().NoError(err)
			s.Equal(tc.WantCreated, sum.Created)
			s.Equal(tc.WantFailed, sum.Failed)
			if tc.WantError == "" {
				s.Equal(2, sum.Skipped)
				s.Equal("service has no monthly price", sum.Results[0].Reason)
				return
			}
			s.Contains(sum.Results[0].Errors, tc.WantError)
		})
	}
}

func (s *MonthlyInvoicesTestSuite) TestSkipZohoSyncPassedToIssuer() {
	_, err := s.gen.Process(context.Background(), MonthlyBillingOptions{SkipZohoSync: true})
	s.Require().NoError(err)
	s.Require().Len(s.issuer.opts, 2)
	s.True(s.issuer.opts[0].SkipZohoSync)
}
