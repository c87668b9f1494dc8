package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/invoice-verifier/internal/app"
	"github.com/dvloznov/invoice-verifier/internal/config"
	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/dvloznov/invoice-verifier/internal/extract"
	"github.com/dvloznov/invoice-verifier/internal/logger"
	"github.com/dvloznov/invoice-verifier/internal/pipeline"
	"github.com/dvloznov/invoice-verifier/internal/stream"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "verify":
		runVerify(log)
	case "extract":
		runExtract(log)
	case "upload":
		runUpload(log)
	case "audit-verify":
		runAuditVerify(log)
	case "audit-query":
		runAuditQuery(log)
	case "audit-export":
		runAuditExport(log)
	case "budget":
		runBudget(log)
	case "watch":
		runWatch(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Invoice Verifier CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  verify        Verify invoice documents (JSON, PDF or gs:// URIs)")
	fmt.Println("  extract       Extract raw invoice fields from a PDF with Gemini")
	fmt.Println("  upload        Upload an invoice file to GCS")
	fmt.Println("  audit-verify  Check the audit trail hash chain")
	fmt.Println("  audit-query   List audit entries")
	fmt.Println("  audit-export  Upload the audit trail to GCS as JSON lines")
	fmt.Println("  budget        Show budget allocations and capacity")
	fmt.Println("  watch         Follow the live activity feed relayed through Redis")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// open loads configuration and wires the verifier. Logs go to stderr so
// command output on stdout stays machine readable.
func open(ctx context.Context, configPath string) (*app.App, zerolog.Logger) {
	log := logger.New()
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	log, err = logger.NewFromOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log settings")
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize verifier")
	}
	return a, log
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv("INVOICE_VERIFIER_CONFIG"), "Path to the YAML config file")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadFields reads raw fields from a local file or a gs:// URI.
func loadFields(ctx context.Context, a *app.App, src string) (domain.RawFields, error) {
	if strings.HasPrefix(src, "gs://") {
		if a.Source == nil {
			return nil, fmt.Errorf("%s: GCS is not configured (set gcp.bucket or gcp.project_id)", src)
		}
		return a.Source.FetchRawFields(ctx, src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	source := a.Source
	if source == nil {
		source = extract.NewSource(nil, nil)
	}
	return source.Decode(ctx, filepath.Base(src), data)
}

func runVerify(log zerolog.Logger) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := configFlag(fs)
	documentID := fs.String("document-id", "", "Document ID (single document only)")
	concurrency := fs.Int("concurrency", pipeline.DefaultBatchConcurrency, "Documents verified in parallel")
	fs.Parse(os.Args[2:])

	if fs.NArg() == 0 {
		log.Fatal().Msg("Usage: cli verify [-config PATH] FILE|gs://URI ...")
	}
	if *documentID != "" && fs.NArg() > 1 {
		log.Fatal().Msg("Error: -document-id applies to a single document")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, log := open(ctx, *configPath)
	defer a.Close()
	ctx = logger.WithContext(ctx, log)

	subs := make([]pipeline.Submission, 0, fs.NArg())
	for _, src := range fs.Args() {
		fields, err := loadFields(ctx, a, src)
		if err != nil {
			log.Fatal().Err(err).Str("source", src).Msg("Failed to load document")
		}
		subs = append(subs, pipeline.Submission{DocumentID: *documentID, Source: src, Fields: fields})
	}

	states := a.Pipeline.ProcessBatch(ctx, subs, *concurrency)
	failed := 0
	for _, s := range states {
		if s.Failure != nil {
			failed++
		}
	}
	if err := printJSON(states); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
	if failed > 0 {
		log.Error().Int("failed", failed).Int("total", len(states)).Msg("Some documents failed")
		os.Exit(1)
	}
}

func runExtract(log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := configFlag(fs)
	fs.Parse(os.Args[2:])

	if fs.NArg() != 1 {
		log.Fatal().Msg("Usage: cli extract [-config PATH] FILE.pdf|gs://URI")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, log := open(ctx, *configPath)
	defer a.Close()

	if a.Source == nil {
		log.Fatal().Msg("Extraction needs gcp.project_id in the config")
	}

	fields, err := loadFields(ctx, a, fs.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}
	if err := printJSON(fields); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := configFlag(fs)
	bucket := fs.String("bucket", "", "GCS bucket name (defaults to gcp.bucket)")
	object := fs.String("object", "", "GCS object name (defaults to invoices/<filename>)")
	filePath := fs.String("file", "", "Path to local invoice file (PDF or JSON)")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -file PATH [-bucket NAME] [-object NAME]")
	}

	ctx := context.Background()
	a, log := open(ctx, *configPath)
	defer a.Close()

	if *bucket == "" {
		*bucket = a.Config.GCP.Bucket
	}
	if *bucket == "" || a.Storage == nil {
		log.Fatal().Msg("Error: a GCS bucket is required (-bucket or gcp.bucket)")
	}
	if *object == "" {
		*object = "invoices/" + filepath.Base(*filePath)
	}

	log.Info().
		Str("bucket", *bucket).
		Str("object", *object).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	uri, err := a.Storage.UploadFile(ctx, *bucket, *object, *filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", *filePath, uri)
}

func runAuditVerify(log zerolog.Logger) {
	fs := flag.NewFlagSet("audit-verify", flag.ExitOnError)
	configPath := configFlag(fs)
	fs.Parse(os.Args[2:])

	ctx := context.Background()
	a, log := open(ctx, *configPath)
	defer a.Close()

	n, err := a.Audit.Verify(ctx)
	if err != nil {
		log.Error().Err(err).Int("entries_checked", n).Msg("Audit chain is broken")
		a.Close()
		os.Exit(1)
	}
	fmt.Printf("Audit chain intact: %d entries verified.\n", n)
}

func parseFilter(department, from, to, verdict string) (domain.AuditFilter, error) {
	f := domain.AuditFilter{Department: department}
	if from != "" {
		d, err := civil.ParseDate(from)
		if err != nil {
			return f, fmt.Errorf("invalid -from: %w", err)
		}
		f.From = &d
	}
	if to != "" {
		d, err := civil.ParseDate(to)
		if err != nil {
			return f, fmt.Errorf("invalid -to: %w", err)
		}
		f.To = &d
	}
	if verdict != "" {
		k, err := domain.ParseVerdictKind(verdict)
		if err != nil {
			return f, err
		}
		f.Verdict = k
	}
	return f, nil
}

func runAuditQuery(log zerolog.Logger) {
	fs := flag.NewFlagSet("audit-query", flag.ExitOnError)
	configPath := configFlag(fs)
	department := fs.String("department", "", "Only entries for this department")
	from := fs.String("from", "", "Earliest invoice date (YYYY-MM-DD)")
	to := fs.String("to", "", "Latest invoice date (YYYY-MM-DD)")
	verdict := fs.String("verdict", "", "accepted, flagged or rejected")
	asJSON := fs.Bool("json", false, "Print entries as JSON")
	fs.Parse(os.Args[2:])

	filter, err := parseFilter(*department, *from, *to, *verdict)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filter")
	}

	ctx := context.Background()
	a, log := open(ctx, *configPath)
	defer a.Close()
	if canonical, ok := a.Departments.Resolve(filter.Department); ok && filter.Department != "" {
		filter.Department = canonical
	}

	var entries []domain.AuditEntry
	for e, err := range a.Audit.Query(ctx, filter) {
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to query audit log")
		}
		entries = append(entries, e)
	}

	if *asJSON {
		if err := printJSON(entries); err != nil {
			log.Fatal().Err(err).Msg("Failed to write output")
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tDATE\tDEPARTMENT\tVENDOR\tAMOUNT\tVERDICT\tREASONS")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
			e.Seq, e.Record.Date, e.Record.Department, e.Record.VendorName,
			e.Record.Amount.StringFixed(2), e.Record.Currency, e.Verdict.Kind,
			strings.Join(e.Verdict.Reasons, "; "))
	}
	w.Flush()
	fmt.Printf("\n%d entries\n", len(entries))
}

func runAuditExport(log zerolog.Logger) {
	fs := flag.NewFlagSet("audit-export", flag.ExitOnError)
	configPath := configFlag(fs)
	bucket := fs.String("bucket", "", "GCS bucket (defaults to gcp.bucket)")
	object := fs.String("object", "", "Object name (defaults to audit/audit-<timestamp>.jsonl)")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, log := open(ctx, *configPath)
	defer a.Close()

	if *bucket == "" {
		*bucket = a.Config.GCP.Bucket
	}
	if *bucket == "" || a.Storage == nil {
		log.Fatal().Msg("Error: a GCS bucket is required (-bucket or gcp.bucket)")
	}
	if *object == "" {
		*object = fmt.Sprintf("audit/audit-%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for e, err := range a.Audit.Query(ctx, domain.AuditFilter{}) {
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audit log")
		}
		if err := enc.Encode(e); err != nil {
			log.Fatal().Err(err).Uint64("seq", e.Seq).Msg("Failed to encode entry")
		}
		count++
	}

	uri, err := a.Storage.UploadBytes(ctx, *bucket, *object, "application/x-ndjson", buf.Bytes())
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	fmt.Printf("Exported %d entries to %s\n", count, uri)
}

func runBudget(log zerolog.Logger) {
	fs := flag.NewFlagSet("budget", flag.ExitOnError)
	configPath := configFlag(fs)
	department := fs.String("department", "", "Department to show (all when empty)")
	period := fs.String("period", "", "Budget period, e.g. 2024-03")
	amount := fs.String("amount", "", "Check whether this amount still fits")
	fs.Parse(os.Args[2:])

	ctx := context.Background()
	a, log := open(ctx, *configPath)
	defer a.Close()

	if *department == "" {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DEPARTMENT\tPERIOD\tALLOCATED\tCONSUMED\tREMAINING")
		for _, s := range a.Ledger.Snapshots() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Department, s.Period,
				s.Allocated.StringFixed(2), s.Consumed.StringFixed(2), s.Remaining.StringFixed(2))
		}
		w.Flush()
		return
	}

	if *period == "" {
		log.Fatal().Msg("Error: -period is required with -department")
	}
	if canonical, ok := a.Departments.Resolve(*department); ok {
		*department = canonical
	}
	snap, err := a.Ledger.Snapshot(*department, *period)
	if err != nil {
		log.Fatal().Err(err).Msg("Budget lookup failed")
	}

	out := map[string]interface{}{"budget": snap}
	if *amount != "" {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -amount")
		}
		out["capacity"] = snap.CapacityFor(d)
	}
	if err := printJSON(out); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
}

func runWatch(log zerolog.Logger) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := configFlag(fs)
	department := fs.String("department", "", "Only events for this department")
	fs.Parse(os.Args[2:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, log := open(ctx, *configPath)
	defer a.Close()

	if a.Redis == nil {
		log.Fatal().Msg("Error: redis.addr must be configured to watch activity")
	}

	events, err := stream.Follow(ctx, a.Redis, a.Config.Redis.Channel, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe")
	}
	if canonical, ok := a.Departments.Resolve(*department); ok && *department != "" {
		*department = canonical
	}
	log.Info().Str("channel", a.Config.Redis.Channel).Msg("Watching activity, Ctrl-C to stop")

	for e := range events {
		if *department != "" && e.Record.Department != *department {
			continue
		}
		fmt.Printf("%s  #%d  %-9s  %-12s  %-24s  %s %s\n",
			e.Timestamp.Local().Format(time.TimeOnly), e.Seq, e.Verdict,
			e.Record.Department, e.Record.VendorName,
			e.Record.Amount.StringFixed(2), e.Record.Currency)
		for _, r := range e.Reasons {
			fmt.Printf("    - %s\n", r)
		}
	}
}
