package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"adregister/internal/connectors"
	"adregister/internal/listener"
	"adregister/internal/pipeline"
)

func (a *app) mailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Fetch and process register mails",
	}
	cmd.AddCommand(a.mailFetchCmd(), a.mailProcessCmd())
	return cmd
}

func (a *app) mailFetchCmd() *cobra.Command {
	var (
		provider string
		label    string
		max      int
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch mails carrying register attachments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			conn, err := connectors.ForProvider(a.cfg, provider)
			if err != nil {
				return err
			}
			result, err := connectors.NewFetchService(db, a.cfg.RawMailDir, conn).FetchAndStore(label, max)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mail fetch done provider=%s fetched=%d stored=%d\n", provider, result.Fetched, result.Stored)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "imap", "gmail|imap")
	cmd.Flags().StringVar(&label, "label", "INBOX", "mailbox/label")
	cmd.Flags().IntVar(&max, "max", 50, "max messages")
	return cmd
}

func (a *app) mailProcessCmd() *cobra.Command {
	var (
		provider  string
		messageID string
		batch     int
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Import the registers attached to fetched mails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			processor := pipeline.NewProcessingService(db, a.cfg)
			out := cmd.OutOrStdout()
			if strings.TrimSpace(messageID) != "" {
				res, err := processor.ProcessByProviderMessageID(provider, messageID)
				if err != nil {
					return err
				}
				if res.Skipped {
					fmt.Fprintf(out, "mail id=%d has no register attachment\n", res.MailID)
					return nil
				}
				fmt.Fprintf(out, "processed mail id=%d run=%s directives=%d\n", res.MailID, res.RunID, res.Directives)
				return nil
			}
			mails, directives, err := processor.ProcessPending(batch, provider)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "processed pending mails=%d directives=%d\n", mails, directives)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "imap", "gmail|imap")
	cmd.Flags().StringVar(&messageID, "message-id", "", "specific message-id")
	cmd.Flags().IntVar(&batch, "batch", 20, "batch size")
	return cmd
}

func (a *app) listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Keep the register current from downloads and mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return listener.NewService(db, a.cfg).Run(ctx)
		},
	}
}
