package ext

import (
	"fmt"

	"github.com/foxcpp/go-sieve/ast"
	"github.com/foxcpp/go-sieve/extreg"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/foxcpp/go-sieve/validator"
)

const opMailboxExists = 0

func init() {
	interp.RegisterOp("mailbox", opMailboxExists, runMailboxExists)
}

// registerMailbox wires the mailboxexists test and the :create tag fileinto
// already exposes unconditionally - mailbox only adds the test itself.
func registerMailbox(reg *extreg.Registry) {
	reg.Register(&extreg.Extension{
		Name: "mailbox",
		ValidatorLoad: func(v *validator.Validator) error {
			v.RegisterCommand(&validator.Command{
				Name: "mailboxexists", Kind: validator.KindTest, PositionalArity: 1,
				Hooks: validator.Hooks{
					Validate: validateMailboxExists,
					Generate: generateMailboxExists,
				},
			})
			return nil
		},
	})
}

func validateMailboxExists(v *validator.Validator, cmd *ast.Node) error {
	if len(cmd.Args) != 1 {
		return fmt.Errorf("mailboxexists: expected a mailbox-names argument")
	}
	v.ArgumentActivate(cmd.Args[0])
	return nil
}

func generateMailboxExists(g validator.Generator, cmd *ast.Node) error {
	g.EmitExtOpcode("mailbox", opMailboxExists)
	g.EmitStringList(core2List(cmd.Args[0]))
	return nil
}

func runMailboxExists(ctx *interp.Context, addr *int) (interp.Status, error) {
	cur := ctx.Cursor()
	mailboxes, ok := cur.ReadStringList(addr)
	if !ok {
		return interp.StatusBinaryCorrupt, fmt.Errorf("mailboxexists: truncated mailbox list")
	}
	data := ctx.Data()
	checker, ok := data.Policy.(interp.MailboxChecker)
	if !ok {
		// RFC 5490: without a way to check, assume every mailbox exists.
		ctx.Push(true)
		return interp.StatusOK, nil
	}
	for _, mailbox := range mailboxes {
		exists, err := checker.MailboxExists(mailbox)
		if err != nil {
			return interp.StatusTempFailure, err
		}
		if !exists {
			ctx.Push(false)
			return interp.StatusOK, nil
		}
	}
	ctx.Push(true)
	return interp.StatusOK, nil
}
