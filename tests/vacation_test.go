package tests

import (
	"context"
	"net/textproto"
	"testing"

	"github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/ext"
	"github.com/foxcpp/go-sieve/interp"
)

func runVacationScript(t *testing.T, script, envFrom string, hdr textproto.MIMEHeader) *ext.VacationAction {
	t.Helper()
	reg := sieve.NewRegistry([]string{"vacation"})
	s, _, err := sieve.Compile("vacation-test.sieve", script, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hdr == nil {
		hdr = make(textproto.MIMEHeader)
	}
	env := interp.EnvelopeStatic{FromAddr: envFrom, ToAddr: "recipient@example.com"}
	data := sieve.NewRuntimeData(s, reg, interp.DummyPolicy{}, env, interp.MessageStatic{Header: hdr})

	res, err := sieve.Execute(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range res.Actions() {
		if va, ok := a.(*ext.VacationAction); ok {
			return va
		}
	}
	return nil
}

func TestVacationBasic(t *testing.T) {
	va := runVacationScript(t, `require ["vacation"]; vacation "I'm on vacation.";`,
		"sender@example.com", nil)

	if va == nil {
		t.Fatal("expected a vacation action")
	}
	if va.Days != 7 {
		t.Errorf("expected default :days 7, got %d", va.Days)
	}
	if va.Reason != "I'm on vacation." {
		t.Errorf("unexpected reason %q", va.Reason)
	}
	if va.To != "sender@example.com" {
		t.Errorf("expected reply to go to the envelope sender, got %q", va.To)
	}
}

func TestVacationWithParameters(t *testing.T) {
	script := `require ["vacation"];
vacation :days 14 :subject "Out of Office" :from "me@example.com"
	:addresses ["me@example.com", "me2@example.com"]
	:handle "vacation-001"
	"I'm on vacation until next week.";`

	va := runVacationScript(t, script, "sender@example.com", nil)
	if va == nil {
		t.Fatal("expected a vacation action")
	}
	if va.Days != 14 {
		t.Errorf("expected :days 14, got %d", va.Days)
	}
	if va.Subject != "Out of Office" {
		t.Errorf("unexpected subject %q", va.Subject)
	}
	if va.From != "me@example.com" {
		t.Errorf("unexpected from %q", va.From)
	}
	if len(va.Addresses) != 2 || va.Addresses[0] != "me@example.com" || va.Addresses[1] != "me2@example.com" {
		t.Errorf("unexpected addresses %v", va.Addresses)
	}
}

func TestVacationDaysClampedToOne(t *testing.T) {
	va := runVacationScript(t, `require ["vacation"]; vacation :days 0 "Away.";`,
		"sender@example.com", nil)
	if va == nil {
		t.Fatal("expected a vacation action")
	}
	if va.Days != 1 {
		t.Errorf(":days 0 should be clamped to 1, got %d", va.Days)
	}
}

func TestVacationSuppressedForEmptySender(t *testing.T) {
	va := runVacationScript(t, `require ["vacation"]; vacation "Away.";`, "", nil)
	if va != nil {
		t.Errorf("vacation must not auto-reply to an empty envelope sender, got %+v", va)
	}
}

func TestVacationSuppressedForMailingList(t *testing.T) {
	hdr := textproto.MIMEHeader{"List-Id": {"<devs.example.com>"}}
	va := runVacationScript(t, `require ["vacation"]; vacation "Away.";`, "sender@example.com", hdr)
	if va != nil {
		t.Errorf("vacation must not auto-reply to list traffic, got %+v", va)
	}
}

func TestVacationSuppressedForAutoSubmitted(t *testing.T) {
	hdr := textproto.MIMEHeader{"Auto-Submitted": {"auto-replied"}}
	va := runVacationScript(t, `require ["vacation"]; vacation "Away.";`, "sender@example.com", hdr)
	if va != nil {
		t.Errorf("vacation must not auto-reply to an Auto-Submitted message, got %+v", va)
	}
}
