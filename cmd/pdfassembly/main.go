// Command pdfassembly reassembles chunked documents from the command line:
// merge chunk files, compact a document, restore field tags around an
// external transform, or inspect what a file contains.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/docuseam/pdfassembly/document"
	"github.com/docuseam/pdfassembly/fields"
	"github.com/docuseam/pdfassembly/merge"
	"github.com/docuseam/pdfassembly/observability"
	"github.com/docuseam/pdfassembly/optimize"
	"github.com/docuseam/pdfassembly/parser"
	"github.com/docuseam/pdfassembly/pipeline"
	"github.com/docuseam/pdfassembly/writer"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	app := &cli.App{
		Name:  "pdfassembly",
		Usage: "reassemble, compact and inspect chunked PDF documents",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				log.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			assembleCommand(log),
			mergeCommand(log),
			compactCommand(log),
			inspectCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("command failed")
	}
}

// localStorage adapts a directory to the pipeline's storage contract.
// Stores go through a temp file and rename so a crashed run never leaves a
// half-written artifact behind.
type localStorage struct {
	root string
}

func (s *localStorage) Load(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, key))
}

func (s *localStorage) Store(_ context.Context, key string, data []byte) error {
	return atomicWrite(filepath.Join(s.root, key), data)
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pdfassembly-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func assembleCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "assemble",
		Usage:     "run the full pipeline over chunk files in a directory",
		ArgsUsage: "CHUNK_FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Usage: "directory holding the chunks and receiving the output",
				Value: ".",
			},
			&cli.BoolFlag{
				Name:  "compress-streams",
				Usage: "flate-encode bare streams when that shrinks them",
			},
			&cli.IntFlag{
				Name:  "image-quality",
				Usage: "re-encode JPEG images at this quality (1-100, 0 keeps them)",
			},
			&cli.IntFlag{
				Name:  "image-max-width",
				Usage: "downscale raster images wider than this (0 keeps dimensions)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("no chunk files given")
			}
			p, err := pipeline.New(pipeline.Config{
				Logger:  observability.NewLogrus(log),
				Storage: &localStorage{root: c.String("dir")},
				Compact: optimize.Config{
					CompressStreams: c.Bool("compress-streams"),
					ImageQuality:    c.Int("image-quality"),
					ImageMaxWidth:   c.Int("image-max-width"),
				},
			})
			if err != nil {
				return err
			}
			res, err := p.Run(c.Context, c.Args().Slice())
			if err != nil {
				return err
			}
			fmt.Printf("File: %s, Status: %s\n", res.OutputKey, res.Status)
			return nil
		},
	}
}

func mergeCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "merge chunk files into one document without compacting",
		ArgsUsage: "CHUNK_FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Usage:    "output file",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("no chunk files given")
			}
			chunks, err := loadChunks(c.Context, c.Args().Slice())
			if err != nil {
				return err
			}
			res, err := merge.New(merge.Config{Logger: observability.NewLogrus(log)}).Merge(chunks)
			if err != nil {
				return err
			}
			data, err := writer.New(writer.Config{}).Bytes(res.Doc)
			if err != nil {
				return err
			}
			return atomicWrite(c.String("out"), data)
		},
	}
}

func compactCommand(log *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "compact",
		Usage:     "compact one document, never letting it grow",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Usage:    "output file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "compress-streams",
				Usage: "flate-encode bare streams when that shrinks them",
			},
		},
		Action: func(c *cli.Context) error {
			doc, _, err := loadDocument(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			res, err := optimize.New(optimize.Config{
				Logger:          observability.NewLogrus(log),
				CompressStreams: c.Bool("compress-streams"),
			}).Compact(doc)
			if err != nil {
				return err
			}
			if err := atomicWrite(c.String("out"), res.Data); err != nil {
				return err
			}
			fmt.Printf("%d -> %d bytes (%.1f%%), accepted=%v\n",
				res.PreSize, res.FinalSize, res.Ratio(), res.Accepted)
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print a document's structure summary",
		ArgsUsage: "FILE",
		Action: func(c *cli.Context) error {
			doc, size, err := loadDocument(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			pages, err := doc.PageCount()
			if err != nil {
				return err
			}
			fmt.Printf("version:  %s\n", doc.Version)
			fmt.Printf("size:     %d bytes\n", size)
			fmt.Printf("objects:  %d\n", len(doc.Objects))
			fmt.Printf("pages:    %d\n", pages)

			snap, err := fields.Capture(doc)
			if err != nil {
				return err
			}
			fmt.Printf("fields:   %d\n", snap.Len())
			for _, name := range snap.Names() {
				tags, _ := snap.Tags(name)
				fmt.Printf("  %s", name)
				if tags.Tooltip != "" {
					fmt.Printf(" (%s)", tags.Tooltip)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func loadDocument(ctx context.Context, path string) (*document.Document, int, error) {
	if path == "" {
		return nil, 0, fmt.Errorf("no input file given")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	doc, err := parser.New(parser.Config{}).ParseBytes(ctx, data)
	if err != nil {
		return nil, 0, errors.Wrap(err, path)
	}
	return doc, len(data), nil
}

func loadChunks(ctx context.Context, paths []string) ([]merge.Chunk, error) {
	chunks := make([]merge.Chunk, 0, len(paths))
	for _, path := range paths {
		ref, err := merge.ParseChunkKey(filepath.Base(path))
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		doc, err := parser.New(parser.Config{}).ParseBytes(ctx, data)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		chunks = append(chunks, merge.Chunk{Ref: ref, Doc: doc, Size: int64(len(data))})
	}
	return chunks, nil
}
