package tests

import (
	"context"
	"net/textproto"
	"testing"

	"github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/ext"
	"github.com/foxcpp/go-sieve/interp"
)

var editheaderExtensions = []string{"editheader", "relational"}

func runEditheaderScript(t *testing.T, script string, hdr textproto.MIMEHeader) []*ext.EditHeaderAction {
	t.Helper()
	reg := sieve.NewRegistry(editheaderExtensions)
	s, _, err := sieve.Compile("editheader-test.sieve", script, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	data := sieve.NewRuntimeData(s, reg, interp.DummyPolicy{},
		interp.EnvelopeStatic{}, interp.MessageStatic{Header: hdr})
	res, err := sieve.Execute(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	var edits []*ext.EditHeaderAction
	for _, a := range res.Actions() {
		if e, ok := a.(*ext.EditHeaderAction); ok {
			edits = append(edits, e)
		}
	}
	return edits
}

func TestEditheaderAddheader(t *testing.T) {
	edits := runEditheaderScript(t, `require ["editheader"];
addheader "X-Sieve-Filtered" "yes";`, textproto.MIMEHeader{})

	if len(edits) != 1 {
		t.Fatalf("expected 1 addheader action, got %d", len(edits))
	}
	if !edits[0].Add || edits[0].FieldName != "X-Sieve-Filtered" || edits[0].Value != "yes" {
		t.Errorf("unexpected addheader action: %+v", edits[0])
	}
	if edits[0].Last {
		t.Errorf("addheader without :last should prepend, got Last=true")
	}
}

func TestEditheaderAddheaderLast(t *testing.T) {
	edits := runEditheaderScript(t, `require ["editheader"];
addheader :last "X-Sieve-Filtered" "yes";`, textproto.MIMEHeader{})

	if len(edits) != 1 || !edits[0].Last {
		t.Fatalf("expected a single :last addheader action, got %+v", edits)
	}
}

func TestEditheaderAddheaderInvalidName(t *testing.T) {
	_, _, err := sieve.Compile("bad.sieve", `require ["editheader"];
addheader "bad header" "yes";`, sieve.NewRegistry(editheaderExtensions), nil)
	if err == nil {
		t.Fatal("expected addheader with a space in the field name to fail validation")
	}
}

func TestEditheaderDeleteheaderNoMatch(t *testing.T) {
	edits := runEditheaderScript(t, `require ["editheader"];
deleteheader "X-Spam-Flag";`, textproto.MIMEHeader{})

	if len(edits) != 1 || edits[0].Add || edits[0].FieldName != "X-Spam-Flag" {
		t.Fatalf("unexpected deleteheader action: %+v", edits)
	}
}

func TestEditheaderDeleteheaderValuePattern(t *testing.T) {
	hdr := textproto.MIMEHeader{"X-Spam-Flag": {"YES", "NO"}}
	edits := runEditheaderScript(t, `require ["editheader", "relational"];
deleteheader :is "X-Spam-Flag" "YES";`, hdr)

	if len(edits) != 1 || edits[0].Value != "YES" {
		t.Fatalf("expected only the matching YES occurrence to be deleted, got %+v", edits)
	}
}

func TestEditheaderDeleteheaderProtected(t *testing.T) {
	hdr := textproto.MIMEHeader{"Received": {"from somewhere"}}
	edits := runEditheaderScript(t, `require ["editheader"];
deleteheader "Received";`, hdr)

	if len(edits) != 0 {
		t.Fatalf("deleteheader must not touch a protected header, got %+v", edits)
	}
}
