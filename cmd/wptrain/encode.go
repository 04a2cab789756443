package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/example/go-wordpiece-trainer/internal/tokenizer"
)

func newEncodeCmd() *cobra.Command {
	var (
		tokenizerPath string
		skipSpecial   bool
	)

	cmd := &cobra.Command{
		Use:   "encode [text...]",
		Short: "Encode text with a trained tokenizer.json",
		Long:  "Encode text with a trained artifact and print ids, tokens and offsets. Reads lines from stdin when no text is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := tokenizer.Load(tokenizerPath, log.Logger)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				return printEncoding(cmd.OutOrStdout(), tok, strings.Join(args, " "), skipSpecial)
			}

			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				if err := printEncoding(cmd.OutOrStdout(), tok, sc.Text(), skipSpecial); err != nil {
					return err
				}
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenizerPath, "tokenizer", "tokenizer.json", "Path to the tokenizer.json artifact")
	cmd.Flags().BoolVar(&skipSpecial, "skip-special", true, "Leave special tokens out of the decoded text")

	return cmd
}

func printEncoding(w io.Writer, enc tokenizer.Encoder, text string, skipSpecial bool) error {
	e, err := enc.Encode(text)
	if err != nil {
		return fmt.Errorf("encode %q: %w", text, err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTOKEN\tOFFSETS")
	for i := range e.IDs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d:%d\n", e.IDs[i], e.Tokens[i], e.Offsets[i][0], e.Offsets[i][1])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "decoded: %s\n\n", enc.Decode(e.IDs, skipSpecial))
	return err
}
