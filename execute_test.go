package sieve

import (
	"bufio"
	"context"
	"net/textproto"
	"reflect"
	"strings"
	"testing"

	"github.com/foxcpp/go-sieve/interp"
)

var eml string = `Date: Tue, 1 Apr 1997 09:06:31 -0800 (PST)
From: coyote@desert.example.org
To: roadrunner@acme.example.com
Subject: I have a present for you

Look, I'm sorry about the whole anvil thing, and I really
didn't mean to try and drop it on you from the top of the
cliff.  I want to try to make it up to you.  I've got some
great birdseed over here at my place--top of the line
stuff--and if you come by, I'll have it all wrapped up
for you.  I'm really sorry for all the problems I've caused
for you over the years, but I know we can work this out.
--
Wile E. Coyote   "Super Genius"   coyote@desert.example.org
`

type testResult struct {
	Redirect     []string
	Fileinto     []string
	ImplicitKeep bool
	Keep         bool
	Flags        []string
}

// testExtensions enables everything the test suite exercises, mirroring
// a host that wants to support the full extension set.
var testExtensions = []string{
	"fileinto", "envelope", "encoded-character",
	"comparator-i;octet", "comparator-i;ascii-casemap",
	"comparator-i;ascii-numeric", "comparator-i;unicode-casemap",
	"imap4flags", "variables", "relational", "vacation", "copy", "regex",
}

func testExecute(ctx context.Context, t *testing.T, in string, eml string, shouldFail bool, intendedResult testResult) {
	t.Helper()

	msgHdr, err := textproto.NewReader(bufio.NewReader(strings.NewReader(eml))).ReadMIMEHeader()
	if err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry(testExtensions)
	script, _, err := Compile("test.sieve", in, reg, nil)
	if err != nil {
		if shouldFail {
			return
		}
		t.Fatal(err)
	}

	env := interp.EnvelopeStatic{FromAddr: "from@test.com", ToAddr: "to@test.com"}
	msg := interp.MessageStatic{SizeBytes: int64(len(eml)), Header: msgHdr}
	data := NewRuntimeData(script, reg, interp.DummyPolicy{}, env, msg)

	if _, err := interp.Execute(ctx, data); err != nil {
		if shouldFail {
			return
		}
		t.Fatal(err)
	}

	if shouldFail {
		t.Fatal("expected test to fail, but it succeeded")
	}

	r := testResult{ImplicitKeep: data.Result.ImplicitKeep()}
	for _, a := range data.Result.Actions() {
		switch act := a.(type) {
		case *interp.KeepAction:
			r.Keep = true
			r.Flags = append(r.Flags, act.Flags...)
		case *interp.FileIntoAction:
			r.Fileinto = append(r.Fileinto, act.Mailbox)
			r.Flags = append(r.Flags, act.Flags...)
		case *interp.RedirectAction:
			r.Redirect = append(r.Redirect, act.Address)
		}
	}

	if !reflect.DeepEqual(r, intendedResult) {
		t.Log("Wrong Execute output")
		t.Log("Actual:  ", r)
		t.Log("Expected:", intendedResult)
		t.FailNow()
	}
}

func TestFileinto(t *testing.T) {
	ctx := context.Background()
	t.Run("single", func(t *testing.T) {
		testExecute(ctx, t, `require "fileinto"; fileinto "test";`, eml, false, testResult{
			Fileinto:     []string{"test"},
			ImplicitKeep: false,
		})
	})
	t.Run("multiple", func(t *testing.T) {
		testExecute(ctx, t, `require "fileinto"; fileinto "test"; fileinto "test2";`, eml, false, testResult{
			Fileinto:     []string{"test", "test2"},
			ImplicitKeep: false,
		})
	})
}

func TestRedirect(t *testing.T) {
	ctx := context.Background()
	testExecute(ctx, t, `redirect "user@example.com";`, eml, false, testResult{
		Redirect:     []string{"user@example.com"},
		ImplicitKeep: false,
	})
}

func TestAddress(t *testing.T) {
	ctx := context.Background()
	t.Run("is", func(t *testing.T) {
		testExecute(ctx, t, `if address :is "From" "coyote@desert.example.org" { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("contains-domain", func(t *testing.T) {
		testExecute(ctx, t, `if address :contains :domain "To" "acme.example.com" { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
}

func TestEnvelope(t *testing.T) {
	ctx := context.Background()
	t.Run("is-from", func(t *testing.T) {
		testExecute(ctx, t, `require "envelope"; if envelope :is "from" "from@test.com" { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("contains-to", func(t *testing.T) {
		testExecute(ctx, t, `require ["envelope", "copy"]; if envelope :contains "to" "test.com" { redirect :copy "another@example.com"; }`, eml, false, testResult{
			Redirect:     []string{"another@example.com"},
			ImplicitKeep: true,
		})
	})
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	t.Run("simple-true", func(t *testing.T) {
		testExecute(ctx, t, `if exists "From" { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("simple-false", func(t *testing.T) {
		testExecute(ctx, t, `if exists "X-Nonexistent-Header" { discard; }`, eml, false, testResult{
			ImplicitKeep: true,
		})
	})
	t.Run("multiple-headers-fail", func(t *testing.T) {
		testExecute(ctx, t, `if exists ["X-Nonexistent-Header", "Subject"] { keep; }`, eml, false, testResult{
			Keep:         false,
			ImplicitKeep: true,
		})
	})
	t.Run("multiple-headers-pass", func(t *testing.T) {
		testExecute(ctx, t, `if exists ["Subject", "From"] { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
}

func TestHeader(t *testing.T) {
	ctx := context.Background()
	t.Run("is-true", func(t *testing.T) {
		testExecute(ctx, t, `if header :is "Subject" "I have a present for you" { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("contains-true", func(t *testing.T) {
		testExecute(ctx, t, `if header :contains "From" "desert.example" { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("is-false", func(t *testing.T) {
		testExecute(ctx, t, `if header :is "Subject" "Not the right subject" { keep; }`, eml, false, testResult{
			ImplicitKeep: true,
		})
	})
}

func TestRegex(t *testing.T) {
	ctx := context.Background()
	t.Run("string-regex-match", func(t *testing.T) {
		script := `require ["variables", "regex"]; set "subject" "I have a present for you"; if string :comparator "i;octet" :regex "${subject}" "I have a (.*) for you" { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("header-regex-match", func(t *testing.T) {
		script := `require "regex"; if header :comparator "i;octet" :regex "Subject" "I have a (.*) for you" { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("header-regex-case-insensitive", func(t *testing.T) {
		script := `require "regex"; if header :regex "Subject" "(?i)I HAVE A (.*) FOR YOU" { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("regex-no-match", func(t *testing.T) {
		script := `require "regex"; if header :regex "Subject" "No match pattern" { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			ImplicitKeep: true,
		})
	})
	t.Run("regex-without-require-error", func(t *testing.T) {
		script := `if header :regex "Subject" "test" { keep; }`
		testExecute(ctx, t, script, eml, true, testResult{})
	})
}

func TestAllOf(t *testing.T) {
	ctx := context.Background()
	t.Run("all-true", func(t *testing.T) {
		script := `if allof (exists "Subject", size :over 100) { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("one-false", func(t *testing.T) {
		script := `if allof (exists "X-Nonexistent-Header", size :over 100) { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			ImplicitKeep: true,
		})
	})
}

func TestAnyOf(t *testing.T) {
	ctx := context.Background()
	t.Run("one-true", func(t *testing.T) {
		script := `if anyof (exists "X-Nonexistent-Header", size :over 100) { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("all-false", func(t *testing.T) {
		script := `if anyof (exists "X-Nonexistent-Header", size :under 100) { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			ImplicitKeep: true,
		})
	})
	t.Run("true-first-subtest-short-circuits", func(t *testing.T) {
		// The second subtest's regex pattern exceeds match.DefaultRegexLimits
		// and would fail at exec time if ever evaluated; anyof must never
		// reach it once the first subtest has already decided true.
		overlong := strings.Repeat("a", 2000)
		script := `require "regex"; if anyof (exists "Subject", header :regex "Subject" "` + overlong + `") { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
}

func TestAllOfShortCircuit(t *testing.T) {
	ctx := context.Background()
	t.Run("false-first-subtest-short-circuits", func(t *testing.T) {
		overlong := strings.Repeat("a", 2000)
		script := `require "regex"; if allof (exists "X-Nonexistent-Header", header :regex "Subject" "` + overlong + `") { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			ImplicitKeep: true,
		})
	})
}

func TestNot(t *testing.T) {
	ctx := context.Background()
	t.Run("not-true-is-false", func(t *testing.T) {
		script := `if not exists "From" { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			ImplicitKeep: true,
		})
	})
	t.Run("not-false-is-true", func(t *testing.T) {
		script := `if not exists "X-Nonexistent" { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("not-allof-false-is-true", func(t *testing.T) {
		script := `if not allof (exists "From", exists "X-Nonexistent") { keep; }`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
}

func TestSize(t *testing.T) {
	ctx := context.Background()

	t.Run("over-true", func(t *testing.T) {
		testExecute(ctx, t, `if size :over 600 { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("over-false-equal", func(t *testing.T) {
		testExecute(ctx, t, `if size :over 606 { keep; }`, eml, false, testResult{
			Keep:         false,
			ImplicitKeep: true,
		})
	})
	t.Run("over-false-greater", func(t *testing.T) {
		testExecute(ctx, t, `if size :over 607 { keep; }`, eml, false, testResult{
			Keep:         false,
			ImplicitKeep: true,
		})
	})
	t.Run("under-true", func(t *testing.T) {
		testExecute(ctx, t, `if size :under 607 { keep; }`, eml, false, testResult{
			Keep:         true,
			ImplicitKeep: true,
		})
	})
	t.Run("under-false-equal", func(t *testing.T) {
		testExecute(ctx, t, `if size :under 606 { keep; }`, eml, false, testResult{
			Keep:         false,
			ImplicitKeep: true,
		})
	})
	t.Run("under-false-less", func(t *testing.T) {
		testExecute(ctx, t, `if size :under 605 { keep; }`, eml, false, testResult{
			Keep:         false,
			ImplicitKeep: true,
		})
	})
	t.Run("no-tag-error", func(t *testing.T) {
		testExecute(ctx, t, `if size 100 { keep; }`, eml, true, testResult{})
	})
	t.Run("both-tags-error", func(t *testing.T) {
		testExecute(ctx, t, `if size :over 100 :under 200 { keep; }`, eml, true, testResult{})
	})
	t.Run("invalid-number-error", func(t *testing.T) {
		testExecute(ctx, t, `if size :over "abc" { keep; }`, eml, true, testResult{})
	})
}

func TestFlags(t *testing.T) {
	ctx := context.Background()
	t.Run("set-add-remove", func(t *testing.T) {
		script := `require ["fileinto", "imap4flags"]; setflag ["flag1", "flag2"]; addflag ["flag2", "flag3"]; removeflag ["flag1"]; fileinto "test";`
		testExecute(ctx, t, script, eml, false, testResult{
			Fileinto:     []string{"test"},
			Flags:        []string{"flag2", "flag3"},
			ImplicitKeep: false,
		})
	})
	t.Run("add-remove", func(t *testing.T) {
		script := `require ["fileinto", "imap4flags"]; addflag ["flag2", "flag3"]; removeflag ["flag3", "flag4"]; fileinto "test";`
		testExecute(ctx, t, script, eml, false, testResult{
			Fileinto:     []string{"test"},
			Flags:        []string{"flag2"},
			ImplicitKeep: false,
		})
	})
	t.Run("case-insensitivity", func(t *testing.T) {
		script := `require "imap4flags"; setflag "Seen"; addflag "FLAGGED"; removeflag "seen"; keep;`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			Flags:        []string{"flagged"},
			ImplicitKeep: true,
		})
	})
	t.Run("keep-with-flags", func(t *testing.T) {
		script := `require "imap4flags"; keep :flags ["\\Answered", "MyFlag"];`
		testExecute(ctx, t, script, eml, false, testResult{
			Keep:         true,
			Flags:        []string{"\\answered", "myflag"},
			ImplicitKeep: true,
		})
	})
}
