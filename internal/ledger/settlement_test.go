package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/edgard/tallybot/internal/ledger"
)

func TestCompleteSettlement(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, time.Minute)
	ctx := context.Background()

	// Three bills paid by carlos: one fully settled, one half settled, one
	// untouched. Ana's own bill must not enter carlos's sweep.
	settled := mustCreateBill(t, svc, "g1", carlos, equalBill(carlos, "mercado", "90.00", ana, bruno))
	partial := mustCreateBill(t, svc, "g1", carlos, equalBill(carlos, "luz", "60.00", ana, bruno))
	mustCreateBill(t, svc, "g1", carlos, equalBill(carlos, "agua", "30.00", ana, bruno))
	mustCreateBill(t, svc, "g1", ana, equalBill(ana, "padaria", "20.00", carlos))

	if _, err := svc.MarkPaid(ctx, "g1", carlos, settled.BillID, []string{"ana", "bruno"}); err != nil {
		t.Fatalf("MarkPaid(settled) error = %v", err)
	}
	if _, err := svc.MarkPaid(ctx, "g1", carlos, partial.BillID, []string{"ana"}); err != nil {
		t.Fatalf("MarkPaid(partial) error = %v", err)
	}

	report, err := svc.CompleteSettlement(ctx, "g1", carlos)
	if err != nil {
		t.Fatalf("CompleteSettlement() error = %v", err)
	}

	if report.BillsExamined != 3 {
		t.Errorf("BillsExamined = %d, want 3", report.BillsExamined)
	}
	if report.FullyPaid != 1 || report.PartiallyPaid != 1 || report.Unpaid != 1 {
		t.Errorf("classification = %d/%d/%d, want 1/1/1",
			report.FullyPaid, report.PartiallyPaid, report.Unpaid)
	}
	if len(report.ArchivedBills) != 1 || report.ArchivedBills[0] != settled.BillID {
		t.Errorf("ArchivedBills = %v, want [%d]", report.ArchivedBills, settled.BillID)
	}

	// Billed covers the full totals 90+60+30. Collected: 30+30 on mercado,
	// 20 on luz. Outstanding: 20 on luz, 10+10 on agua.
	if !report.TotalBilled.Equal(dec("180.00")) {
		t.Errorf("TotalBilled = %s, want 180.00", report.TotalBilled)
	}
	if !report.TotalCollected.Equal(dec("80.00")) {
		t.Errorf("TotalCollected = %s, want 80.00", report.TotalCollected)
	}
	if !report.TotalOutstanding.Equal(dec("40.00")) {
		t.Errorf("TotalOutstanding = %s, want 40.00", report.TotalOutstanding)
	}

	detail, err := svc.GetBillDetail(ctx, "g1", settled.BillID)
	if err != nil {
		t.Fatalf("GetBillDetail() error = %v", err)
	}
	if detail.Status != ledger.StatusArchived {
		t.Errorf("settled bill status = %q, want %q", detail.Status, ledger.StatusArchived)
	}

	// A second sweep no longer sees the archived bill and archives nothing.
	report, err = svc.CompleteSettlement(ctx, "g1", carlos)
	if err != nil {
		t.Fatalf("second CompleteSettlement() error = %v", err)
	}
	if report.BillsExamined != 2 {
		t.Errorf("second sweep examined %d bills, want 2", report.BillsExamined)
	}
	if len(report.ArchivedBills) != 0 {
		t.Errorf("second sweep archived %v, want none", report.ArchivedBills)
	}
}

func TestCompleteSettlement_EmptyLedger(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, time.Minute)

	report, err := svc.CompleteSettlement(context.Background(), "g1", carlos)
	if err != nil {
		t.Fatalf("CompleteSettlement() error = %v", err)
	}
	if report.BillsExamined != 0 {
		t.Errorf("BillsExamined = %d, want 0", report.BillsExamined)
	}
	if !report.TotalBilled.IsZero() || !report.TotalCollected.IsZero() || !report.TotalOutstanding.IsZero() {
		t.Errorf("money totals = %s/%s/%s, want zeros",
			report.TotalBilled, report.TotalCollected, report.TotalOutstanding)
	}
}

func TestCompleteSettlement_RoundedSharesStayExact(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, time.Minute)
	ctx := context.Background()

	// 100 across three heads rounds each share up to 33.34; the payer
	// retains 33.32. Billed carries the full total.
	receipt := mustCreateBill(t, svc, "g1", carlos, equalBill(carlos, "jantar", "100.00", ana, bruno))
	if _, err := svc.MarkPaid(ctx, "g1", carlos, receipt.BillID, []string{"ana"}); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}

	report, err := svc.CompleteSettlement(ctx, "g1", carlos)
	if err != nil {
		t.Fatalf("CompleteSettlement() error = %v", err)
	}
	if !report.TotalBilled.Equal(dec("100.00")) {
		t.Errorf("TotalBilled = %s, want 100.00", report.TotalBilled)
	}
	if !report.TotalCollected.Equal(dec("33.34")) {
		t.Errorf("TotalCollected = %s, want 33.34", report.TotalCollected)
	}
	if !report.TotalOutstanding.Equal(dec("33.34")) {
		t.Errorf("TotalOutstanding = %s, want 33.34", report.TotalOutstanding)
	}

	retained := report.TotalBilled.Sub(report.TotalCollected).Sub(report.TotalOutstanding)
	if !retained.Equal(dec("33.32")) {
		t.Errorf("retained share = %s, want 33.32", retained)
	}
}
