package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/dump"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	contractFlag = cli.StringFlag{Name: "contract", Usage: "Base58 data contract identifier"}
	typeFlag     = cli.StringFlag{Name: "type", Usage: "Document type name"}
	idFlag       = cli.StringFlag{Name: "id", Usage: "Base58 document identifier"}
	priceFlag    = cli.Uint64Flag{Name: "price", Usage: "Document price in credits"}
)

// action wraps command handler with env initialization and interruption
// handling.
func action(f func(ctx context.Context, c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		e, err := newEnv(c)
		if err != nil {
			return err
		}

		defer e.close()

		return f(ctx, c, e)
	}
}

func requiredID(c *cli.Context, flag string) (identifier.ID, error) {
	s := c.String(flag)
	if s == "" {
		return identifier.ID{}, fmt.Errorf("missing --%s flag", flag)
	}

	id, err := identifier.Decode(s)
	if err != nil {
		return identifier.ID{}, fmt.Errorf("invalid --%s flag: %w", flag, err)
	}

	return id, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", " ")
	return enc.Encode(v)
}

// printOK reports successful completion of the command.
func printOK(c *cli.Context) error {
	_, err := fmt.Fprintln(c.App.Writer, "OK")
	return err
}

// documentView is a document with human-readable timestamps.
type documentView struct {
	*document.Document
	CreatedTime     *time.Time `json:",omitempty"`
	UpdatedTime     *time.Time `json:",omitempty"`
	TransferredTime *time.Time `json:",omitempty"`
}

func viewOf(doc *document.Document) documentView {
	return documentView{
		Document:        doc,
		CreatedTime:     timeOf(doc.CreatedAt),
		UpdatedTime:     timeOf(doc.UpdatedAt),
		TransferredTime: timeOf(doc.TransferredAt),
	}
}

func timeOf(ts *uint64) *time.Time {
	if ts == nil {
		return nil
	}
	t := document.TimeOf(*ts).UTC()
	return &t
}

func createCommand() cli.Command {
	return cli.Command{
		Name:  "create",
		Usage: "Create documents owned by the wallet identity",
		Flags: []cli.Flag{
			contractFlag,
			typeFlag,
			cli.StringFlag{Name: "props", Usage: "Document properties in JSON"},
			cli.IntFlag{Name: "count", Value: 1, Usage: "Number of documents to create concurrently"},
		},
		Action: action(func(ctx context.Context, c *cli.Context, e *env) error {
			contract, err := requiredID(c, contractFlag.Name)
			if err != nil {
				return err
			}

			var props map[string]any

			dec := json.NewDecoder(strings.NewReader(c.String("props")))
			dec.UseNumber()

			err = dec.Decode(&props)
			if err != nil {
				return fmt.Errorf("decode --props: %w", err)
			}

			typ, err := e.documentType(ctx, contract, c.String(typeFlag.Name))
			if err != nil {
				return err
			}

			owner, ks, err := e.wallet(ctx)
			if err != nil {
				return err
			}

			ctrl := e.controller(ks)

			var mtx sync.Mutex
			g, ctx := errgroup.WithContext(ctx)

			for i := range c.Int("count") {
				g.Go(func() error {
					doc, err := ctrl.Create(ctx, typ, owner, props)
					if err != nil {
						return fmt.Errorf("document #%d: %w", i, err)
					}

					mtx.Lock()
					fmt.Fprintln(c.App.Writer, doc.ID)
					mtx.Unlock()

					return nil
				})
			}

			err = g.Wait()
			if err != nil {
				return err
			}

			return printOK(c)
		}),
	}
}

func fetchCommand() cli.Command {
	return cli.Command{
		Name:  "fetch",
		Usage: "Print the latest confirmed state of the document",
		Flags: []cli.Flag{contractFlag, typeFlag, idFlag},
		Action: action(func(ctx context.Context, c *cli.Context, e *env) error {
			contract, err := requiredID(c, contractFlag.Name)
			if err != nil {
				return err
			}

			id, err := requiredID(c, idFlag.Name)
			if err != nil {
				return err
			}

			doc, err := e.platform.FetchDocument(ctx, contract, c.String(typeFlag.Name), id)
			if err != nil {
				return fmt.Errorf("fetch document: %w", err)
			}

			return printJSON(c, viewOf(doc))
		}),
	}
}

func setPriceCommand() cli.Command {
	return cli.Command{
		Name:  "set-price",
		Usage: "Put the document owned by the wallet identity on sale",
		Flags: []cli.Flag{contractFlag, typeFlag, idFlag, priceFlag},
		Action: action(func(ctx context.Context, c *cli.Context, e *env) error {
			contract, err := requiredID(c, contractFlag.Name)
			if err != nil {
				return err
			}

			id, err := requiredID(c, idFlag.Name)
			if err != nil {
				return err
			}

			typ, err := e.documentType(ctx, contract, c.String(typeFlag.Name))
			if err != nil {
				return err
			}

			owner, ks, err := e.wallet(ctx)
			if err != nil {
				return err
			}

			ctrl := e.controller(ks)

			doc, err := ctrl.Fetch(ctx, contract, typ.Name, id)
			if err != nil {
				return err
			}

			doc, err = ctrl.UpdatePrice(ctx, typ, owner, doc, c.Uint64(priceFlag.Name))
			if err != nil {
				return err
			}

			e.log.Info("document is on sale", zap.Stringer("document", doc.ID), zap.Uint64("revision", doc.Revision))

			return printOK(c)
		}),
	}
}

func purchaseCommand() cli.Command {
	return cli.Command{
		Name:  "purchase",
		Usage: "Buy the document on sale for the wallet identity",
		Flags: []cli.Flag{contractFlag, typeFlag, idFlag, priceFlag},
		Action: action(func(ctx context.Context, c *cli.Context, e *env) error {
			contract, err := requiredID(c, contractFlag.Name)
			if err != nil {
				return err
			}

			id, err := requiredID(c, idFlag.Name)
			if err != nil {
				return err
			}

			typ, err := e.documentType(ctx, contract, c.String(typeFlag.Name))
			if err != nil {
				return err
			}

			purchaser, ks, err := e.wallet(ctx)
			if err != nil {
				return err
			}

			ctrl := e.controller(ks)

			doc, err := ctrl.Fetch(ctx, contract, typ.Name, id)
			if err != nil {
				return err
			}

			doc, err = ctrl.Purchase(ctx, typ, purchaser, doc, c.Uint64(priceFlag.Name))
			if err != nil {
				return err
			}

			e.log.Info("document purchased", zap.Stringer("document", doc.ID), zap.Stringer("owner", doc.OwnerID))

			return printOK(c)
		}),
	}
}

func dumpCommand() cli.Command {
	return cli.Command{
		Name:  "dump",
		Usage: "Dump data contract and its documents to the local directory",
		Flags: []cli.Flag{
			contractFlag,
			cli.StringSliceFlag{Name: "document", Usage: "Document to dump as <type>:<base58 ID>, repeatable"},
			cli.StringFlag{Name: "label", Usage: "Label of the network (e.g. 'testnet')"},
			cli.StringFlag{Name: "dir", Value: "testdata", Usage: "Directory to put the dump in"},
		},
		Action: action(func(ctx context.Context, c *cli.Context, e *env) error {
			contract, err := requiredID(c, contractFlag.Name)
			if err != nil {
				return err
			}

			label := c.String("label")
			if label == "" {
				label = e.cfg.Network
			}

			dir := c.String("dir")

			err = os.MkdirAll(dir, 0700)
			if err != nil {
				return fmt.Errorf("create root dir: %w", err)
			}

			block, err := e.core.BlockCount(ctx)
			if err != nil {
				return err
			}

			dataContract, err := e.platform.FetchDataContract(ctx, contract)
			if err != nil {
				return fmt.Errorf("fetch data contract: %w", err)
			}

			d, err := dump.NewCreator(dir, dump.ID{Label: label, Block: block})
			if err != nil {
				return fmt.Errorf("init local dumper: %w", err)
			}

			defer d.Close()

			w := d.AddDataContract(dataContract)

			for _, ref := range c.StringSlice("document") {
				typeName, idStr, ok := strings.Cut(ref, ":")
				if !ok {
					return fmt.Errorf("invalid document reference %q", ref)
				}

				id, err := identifier.Decode(idStr)
				if err != nil {
					return fmt.Errorf("invalid document reference %q: %w", ref, err)
				}

				e.log.Info("processing document...", zap.String("type", typeName), zap.Stringer("id", id))

				doc, err := e.platform.FetchDocument(ctx, contract, typeName, id)
				if err != nil {
					return fmt.Errorf("fetch document %s: %w", id, err)
				}

				err = w.Write(typeName, doc)
				if err != nil {
					return err
				}
			}

			err = d.Flush()
			if err != nil {
				return fmt.Errorf("flush dump: %w", err)
			}

			e.log.Info("data contract is successfully dumped", zap.String("dir", dir))

			return printOK(c)
		}),
	}
}
