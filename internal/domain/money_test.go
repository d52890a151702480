package domain

import "testing"

func TestMoneyString(t *testing.T) {
	cases := []struct {
		in   Money
		want string
	}{
		{0, "0.00"},
		{800, "8.00"},
		{1200, "12.00"},
		{4005, "40.05"},
		{-250, "-2.50"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Fatalf("Money(%d).String() = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{in: "40.00", want: 4000},
		{in: "8", want: 800},
		{in: "12,5", want: 1250},
		{in: "-2.50", want: -250},
		{in: " 0.05 ", want: 5},
		{in: "", wantErr: true},
		{in: "1.234", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseMoney(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseMoney(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseMoney(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestOrderStatusLabels(t *testing.T) {
	cases := map[OrderStatus]string{
		OrderStatusPending:    "Non traitée",
		OrderStatusInProgress: "En cours",
		OrderStatusCompleted:  "Terminée",
		OrderStatusCancelled:  "Annulée",
	}
	for status, want := range cases {
		if got := status.Label(); got != want {
			t.Fatalf("label for %s = %q, want %q", status, got, want)
		}
	}
	if got := OrderStatus("unknown").Label(); got != "unknown" {
		t.Fatalf("unknown status label = %q", got)
	}
}

func TestDeliverySurcharges(t *testing.T) {
	cases := map[DeliveryType]Money{
		DeliveryTypePickup:    0,
		DeliveryTypeCenter:    800,
		DeliveryTypeOutskirts: 1200,
	}
	for typ, want := range cases {
		fee, ok := typ.Surcharge()
		if !ok {
			t.Fatalf("expected surcharge for %s", typ)
		}
		if fee != want {
			t.Fatalf("surcharge for %s = %d, want %d", typ, fee, want)
		}
	}
	if _, ok := DeliveryType("express").Surcharge(); ok {
		t.Fatalf("expected unknown delivery type to be rejected")
	}
}
