package tests

import (
	"context"
	"net/textproto"
	"testing"

	"github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/interp"
)

var dateExtensions = []string{"date", "relational", "fileinto"}

func runDateScript(t *testing.T, script string, hdr textproto.MIMEHeader) *sieve.Result {
	t.Helper()
	reg := sieve.NewRegistry(dateExtensions)
	s, _, err := sieve.Compile("date-test.sieve", script, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hdr == nil {
		hdr = make(textproto.MIMEHeader)
	}
	data := sieve.NewRuntimeData(s, reg, interp.DummyPolicy{},
		interp.EnvelopeStatic{}, interp.MessageStatic{Header: hdr})
	res, err := sieve.Execute(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func fileinto(res *sieve.Result) string {
	for _, a := range res.Actions() {
		if fi, ok := a.(*interp.FileIntoAction); ok {
			return fi.Mailbox
		}
	}
	return ""
}

func TestDatePart(t *testing.T) {
	hdr := textproto.MIMEHeader{"Date": {"Tue, 1 Apr 1997 09:06:31 -0800 (PST)"}}

	tests := []struct {
		part string
		want string
	}{
		{"year", "1997"},
		{"month", "04"},
		{"day", "01"},
		{"hour", "09"},
		{"minute", "06"},
		{"second", "31"},
		{"date", "1997-04-01"},
		{"time", "09:06:31"},
		{"weekday", "2"},
	}
	for _, tc := range tests {
		script := `require ["date", "fileinto"];
if date :is "date" "` + tc.part + `" "` + tc.want + `" {
	fileinto "matched";
}`
		res := runDateScript(t, script, hdr)
		if got := fileinto(res); got != "matched" {
			t.Errorf("date-part %s: want match on %q, got fileinto=%q", tc.part, tc.want, got)
		}
	}
}

func TestDateOriginalZone(t *testing.T) {
	hdr := textproto.MIMEHeader{"Date": {"Tue, 1 Apr 1997 09:06:31 -0800 (PST)"}}
	script := `require ["date", "fileinto"];
if date :originalzone :is "date" "zone" "-0800" {
	fileinto "matched";
}`
	res := runDateScript(t, script, hdr)
	if got := fileinto(res); got != "matched" {
		t.Errorf("expected :originalzone to report -0800, got fileinto=%q", got)
	}
}

func TestDateExplicitZone(t *testing.T) {
	hdr := textproto.MIMEHeader{"Date": {"Tue, 1 Apr 1997 09:06:31 -0800 (PST)"}}
	script := `require ["date", "fileinto"];
if date :zone "+0000" :is "date" "hour" "17" {
	fileinto "matched";
}`
	res := runDateScript(t, script, hdr)
	if got := fileinto(res); got != "matched" {
		t.Errorf("expected :zone \"+0000\" to shift 09:06 PST to 17:06 UTC, got fileinto=%q", got)
	}
}

func TestDateNoHeader(t *testing.T) {
	script := `require ["date", "fileinto"];
if date :is "date" "year" "1997" {
	fileinto "matched";
}`
	res := runDateScript(t, script, textproto.MIMEHeader{})
	if got := fileinto(res); got != "" {
		t.Errorf("missing Date header should never match, got fileinto=%q", got)
	}
}

func TestDateRelational(t *testing.T) {
	hdr := textproto.MIMEHeader{"Date": {"Tue, 1 Apr 1997 09:06:31 -0800 (PST)"}}
	script := `require ["date", "relational", "fileinto"];
if date :value "ge" "date" "year" "1990" {
	fileinto "matched";
}`
	res := runDateScript(t, script, hdr)
	if got := fileinto(res); got != "matched" {
		t.Errorf("expected 1997 >= 1990 to match, got fileinto=%q", got)
	}
}

func TestCurrentDatePart(t *testing.T) {
	script := `require ["date", "fileinto"];
if currentdate :value "ge" "year" "2000" {
	fileinto "matched";
}`
	res := runDateScript(t, script, nil)
	if got := fileinto(res); got != "matched" {
		t.Errorf("expected currentdate year to be >= 2000, got fileinto=%q", got)
	}
}

func TestCurrentDateZone(t *testing.T) {
	script := `require ["date", "fileinto"];
if not currentdate :zone "+0100" :is "zone" "+0000" {
	fileinto "matched";
}`
	res := runDateScript(t, script, nil)
	if got := fileinto(res); got != "matched" {
		t.Errorf("expected :zone \"+0100\" to report a non-UTC zone, got fileinto=%q", got)
	}
}
