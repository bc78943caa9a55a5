package ext

import (
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/validator"
)

// Register links every optional extension's validator/generator hooks into
// reg, so a script's `require` statement can pull any of them in. Core
// commands (RFC 5228 base set) are wired separately by core.Register, since
// they are always available and never gated behind require.
func Register(reg *extreg.Registry) {
	registerVacation(reg)
	registerImap4Flags(reg)
	registerDuplicate(reg)
	registerEditheader(reg)
	registerDate(reg)
	registerMailbox(reg)
	registerVariables(reg)
	registerPassthrough(reg)
}

// passthroughNames lists require-able extension names core.Register
// already implements unconditionally (the RFC 5228 base action/test set)
// or that only gate a tag core checks via Validator.RequiresExtension
// (:copy, :regex, :value/:count) - require merely needs to succeed for
// scripts naming them, there is no separate validator/generator hook to
// link.
var passthroughNames = []string{
	"fileinto", "envelope", "encoded-character",
	"copy", "regex", "relational", "subaddress", "index",
	"comparator-i;octet", "comparator-i;ascii-casemap",
	"comparator-i;ascii-numeric", "comparator-i;unicode-casemap",
}

func registerPassthrough(reg *extreg.Registry) {
	for _, name := range passthroughNames {
		name := name
		reg.Register(&extreg.Extension{
			Name:          name,
			ValidatorLoad: func(v *validator.Validator) error { return nil },
		})
	}
}
