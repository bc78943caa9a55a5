package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"net/textproto"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/ext"
	"github.com/foxcpp/go-sieve/interp"
)

// allExtensions is every extension name the engine knows how to require;
// a real host would usually restrict this to what it actually supports.
var allExtensions = []string{
	"fileinto", "envelope", "encoded-character",
	"comparator-i;octet", "comparator-i;ascii-casemap",
	"comparator-i;ascii-numeric", "comparator-i;unicode-casemap",
	"imap4flags", "variables", "relational", "vacation", "copy", "regex",
	"date", "index", "editheader", "mailbox", "subaddress", "duplicate",
}

func main() {
	msgPath := flag.String("eml", "", "message to process")
	scriptPath := flag.String("script", "", "script to run")
	envFrom := flag.String("from", "", "envelope from")
	envTo := flag.String("to", "", "envelope to")
	configPath := flag.String("config", "", "TOML config file (see sieve.Options)")
	smtpAddr := flag.String("smtp", "", "host:port to relay vacation auto-replies through (empty disables sending)")
	flag.Parse()

	log := slog.Default()
	eh := sieve.NewSlogErrorHandler(log)

	opts := sieve.DefaultOptions()
	opts.EnabledExtensions = allExtensions
	if *configPath != "" {
		if err := opts.LoadConfig(*configPath); err != nil {
			log.Error("loading config", "error", err)
			os.Exit(1)
		}
	}
	reg := opts.Apply()

	msg, err := os.Open(*msgPath)
	if err != nil {
		log.Error("opening message", "error", err)
		os.Exit(1)
	}
	defer msg.Close()
	fileInfo, err := msg.Stat()
	if err != nil {
		log.Error("stat message", "error", err)
		os.Exit(1)
	}
	msgHdr, err := textproto.NewReader(bufio.NewReader(msg)).ReadMIMEHeader()
	if err != nil {
		log.Error("parsing message headers", "error", err)
		os.Exit(1)
	}

	scriptSrc, err := os.ReadFile(*scriptPath)
	if err != nil {
		log.Error("reading script", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	script, _, err := sieve.CompileWithOptions(*scriptPath, string(scriptSrc), reg, eh, opts)
	if err != nil {
		log.Error("compiling script", "error", err)
		os.Exit(1)
	}
	log.Info("script compiled", "duration", time.Since(start))

	env := interp.EnvelopeStatic{FromAddr: *envFrom, ToAddr: *envTo}
	pol := &policy{
		memDuplicateStore:  newMemDuplicateStore(time.Duration(opts.DuplicateExpireSeconds) * time.Second),
		smtpVacationSender: &smtpVacationSender{Addr: *smtpAddr, From: *envTo},
	}
	data := sieve.NewRuntimeData(script, reg, pol, env,
		interp.MessageStatic{SizeBytes: fileInfo.Size(), Header: msgHdr})
	data.Opts = interp.Options{Registry: prometheus.NewRegistry(), Logger: log}

	ctx := context.Background()
	start = time.Now()
	res, err := sieve.Execute(ctx, data)
	if err != nil {
		log.Error("executing script", "error", err)
		os.Exit(1)
	}
	log.Info("script executed", "duration", time.Since(start))

	log.Info("implicit keep suppressed", "suppressed", !res.ImplicitKeep())
	for _, a := range res.Actions() {
		fields := []any{"action", a.Name()}
		switch act := a.(type) {
		case *ext.VacationAction:
			fields = append(fields, "to", act.To, "from", act.From, "subject", act.Subject,
				"reason", act.Reason, "days", act.Days, "mime", act.MIME)
		case *interp.FileIntoAction:
			fields = append(fields, "mailbox", act.Mailbox, "flags", act.Flags)
		case *interp.RedirectAction:
			fields = append(fields, "address", act.Address)
		case *interp.KeepAction:
			fields = append(fields, "flags", act.Flags)
		}
		log.Info("queued action", fields...)
	}
}
