package tests

import (
	"context"
	"testing"

	"github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/interp"
)

// TestCopyExtension verifies that the :copy extension works correctly
// for both redirect and fileinto commands.
func TestCopyExtension(t *testing.T) {
	ctx := context.Background()

	redirectRes, err := runCopyScript(ctx, `
require ["copy"];

redirect :copy "user@example.com";
`, []string{"copy"})
	if err != nil {
		t.Fatalf("redirect :copy script failed: %v", err)
	}

	var redirects []string
	for _, a := range redirectRes.Actions() {
		if r, ok := a.(*interp.RedirectAction); ok {
			redirects = append(redirects, r.Address)
		}
	}
	if len(redirects) != 1 || redirects[0] != "user@example.com" {
		t.Errorf("expected redirect to user@example.com, got %v", redirects)
	}
	if !redirectRes.ImplicitKeep() {
		t.Errorf("redirect :copy should have left the implicit keep in place")
	}

	fileintoRes, err := runCopyScript(ctx, `
require ["fileinto", "copy"];

fileinto :copy "Spam";
`, []string{"fileinto", "copy"})
	if err != nil {
		t.Fatalf("fileinto :copy script failed: %v", err)
	}

	var mailboxes []string
	for _, a := range fileintoRes.Actions() {
		if fi, ok := a.(*interp.FileIntoAction); ok {
			mailboxes = append(mailboxes, fi.Mailbox)
		}
	}
	if len(mailboxes) != 1 || mailboxes[0] != "Spam" {
		t.Errorf("expected fileinto to Spam, got %v", mailboxes)
	}
	if !fileintoRes.ImplicitKeep() {
		t.Errorf("fileinto :copy should have left the implicit keep in place")
	}

	if _, err := runCopyScript(ctx, `
require ["fileinto"];

redirect :copy "user@example.com";
`, []string{"fileinto", "copy"}); err == nil {
		t.Errorf("redirect :copy without require 'copy' should have failed")
	}

	if _, err := runCopyScript(ctx, `
require ["fileinto"];

fileinto :copy "Spam";
`, []string{"fileinto", "copy"}); err == nil {
		t.Errorf("fileinto :copy without require 'copy' should have failed")
	}
}

func runCopyScript(ctx context.Context, script string, enabled []string) (*sieve.Result, error) {
	reg := sieve.NewRegistry(enabled)
	s, _, err := sieve.Compile("copy-test.sieve", script, reg, nil)
	if err != nil {
		return nil, err
	}
	env := interp.EnvelopeStatic{FromAddr: "sender@example.com", ToAddr: "recipient@example.com"}
	data := sieve.NewRuntimeData(s, reg, interp.DummyPolicy{}, env, interp.MessageStatic{})
	return sieve.Execute(ctx, data)
}
