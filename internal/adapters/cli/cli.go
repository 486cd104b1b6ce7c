package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"invoice-agent/internal/app"
	"invoice-agent/internal/core"
)

// Usage lists the available commands.
const Usage = `Commands:
  ingest                          read an extraction record from stdin and create the invoice
  status <invoice-id>             show the status of an invoice
  log <invoice-id>                show the process log of an invoice
  post <invoice-id> [CREDIT_MEMO] post an approved invoice to the ERP
  sync [full|delta] [since]       sync the supplier master (since is RFC 3339)
  validate-supplier <number>      check that a supplier exists and is active
  schema                          print the extraction record JSON schema`

// Run executes a one-shot CLI command. args is os.Args[1:]; the first element
// is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given\n%s", Usage)
	}

	switch args[0] {
	case "ingest":
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		res, err := svc.CreateInvoiceFromExtraction(ctx, raw)
		if err != nil {
			return err
		}
		return printJSON(stdout, res)

	case "status", "st":
		id, err := invoiceArg(args)
		if err != nil {
			return err
		}
		snap, err := svc.GetInvoiceStatus(ctx, app.InvoiceRef{InvoiceID: id})
		if err != nil {
			return err
		}
		printStatus(stdout, snap)
		return nil

	case "log":
		id, err := invoiceArg(args)
		if err != nil {
			return err
		}
		res, err := svc.GetProcessLog(ctx, app.InvoiceRef{InvoiceID: id})
		if err != nil {
			return err
		}
		printLog(stdout, res)
		return nil

	case "post":
		id, err := invoiceArg(args)
		if err != nil {
			return err
		}
		req := app.PostInvoiceRequest{InvoiceID: id}
		if len(args) > 2 {
			req.PostingType = core.PostingType(args[2])
		}
		out, err := svc.PostToERP(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(stdout, out)

	case "sync":
		req := app.SyncSuppliersRequest{}
		if len(args) > 1 {
			req.Mode = core.SyncMode(args[1])
		}
		if len(args) > 2 {
			since, err := time.Parse(time.RFC3339, args[2])
			if err != nil {
				return core.NewInputError("since", "must be an RFC 3339 timestamp")
			}
			req.Since = &since
		}
		res, err := svc.SyncSupplierMaster(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Supplier sync (%s): fetched %d, synced %d, failed %d; embeddings refreshed %d, failed %d in %s\n",
			res.Mode, res.Fetched, res.Synced, res.Failed, res.EmbeddingsRefreshed, res.EmbeddingsFailed, res.Duration.Round(time.Millisecond))
		return nil

	case "validate-supplier", "vs":
		if len(args) < 2 {
			return errors.New("usage: validate-supplier <number>")
		}
		v, err := svc.ValidateSupplierNumber(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: %s\n", v.SupplierNumber, v.Message)
		if !v.Valid {
			return fmt.Errorf("supplier %s is not valid", v.SupplierNumber)
		}
		return nil

	case "schema":
		_, err := stdout.Write(append(svc.ExtractionSchema(), '\n'))
		return err

	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], Usage)
	}
}

func invoiceArg(args []string) (uuid.UUID, error) {
	if len(args) < 2 {
		return uuid.Nil, fmt.Errorf("usage: %s <invoice-id>", args[0])
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		return uuid.Nil, core.NewInputError("invoice_id", fmt.Sprintf("%q is not a UUID", args[1]))
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, s *core.InvoiceStatusSnapshot) {
	fmt.Fprintln(w, strings.Repeat("=", 62))
	fmt.Fprintf(w, "  INVOICE %s\n", s.InvoiceID)
	fmt.Fprintln(w, strings.Repeat("=", 62))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(tw, "  %s\t%s\n", label, value)
		}
	}
	row("Step", string(s.Step))
	row("Status", string(s.Status))
	row("Result", string(s.Result))
	row("Message", s.Message)
	if s.SupplierNumber != "" {
		row("Supplier", s.SupplierNumber+" "+s.SupplierName)
	}
	row("Supplier match", string(s.SupplierMatchStatus))
	row("PO match", string(s.POMatchStatus))
	row("Lines", fmt.Sprintf("%d of %d matched", s.MatchedLines, s.TotalLines))
	row("Three-way match", string(s.ThreeWayMatchStatus))
	row("ERP document", s.ERPDocumentNumber)
	if s.RetryCount > 0 {
		row("Retries", fmt.Sprint(s.RetryCount))
	}
	row("Last error", s.LastError)
	_ = tw.Flush()
}

func printLog(w io.Writer, res *app.ProcessLogResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTEP\tSTATUS\tRESULT\tMESSAGE")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Step, e.Status, e.Result, e.Message)
	}
	_ = tw.Flush()
}
