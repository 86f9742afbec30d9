package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aiox-platform/llmgate/internal/admin"
	"github.com/aiox-platform/llmgate/internal/auth"
	"github.com/aiox-platform/llmgate/internal/config"
	inats "github.com/aiox-platform/llmgate/internal/nats"
	"github.com/aiox-platform/llmgate/internal/quota"
)

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newTokenCmd(opts *options) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Log in to the admin API and print a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			password, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}

			var tok auth.Token
			_, err = newAPIClient(opts).do(cmd.Context(), http.MethodPost, "/token",
				auth.TokenRequest{Username: username, Password: password}, &tok)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			color.New(color.FgHiBlack).Fprintf(cmd.ErrOrStderr(), "expires in %ds; export %s=<token>\n", tok.ExpiresIn, envToken)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", os.Getenv("ADMIN_USERNAME"), "operator username")
	return cmd
}

func newQuotaCmd(opts *options) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "quota [userID]",
		Short: "Show global quota usage, or one user's usage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(opts)
			if err := c.requireToken(); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 0 {
				var g admin.GlobalResponse
				if _, err := c.do(cmd.Context(), http.MethodGet, "/quota", nil, &g); err != nil {
					return err
				}
				fmt.Fprintf(w, "DATE\t%s\n", g.Date)
				fmt.Fprintf(w, "TOTAL\t%d/%d\n", g.TotalDailyRequests, g.TotalDailyLimit)
				fmt.Fprintf(w, "PER USER\t%d/day\n", g.RequestsPerUser)
				fmt.Fprintf(w, "PER MINUTE\t%d\n", g.RequestsPerMinute)
				return nil
			}

			path := pathEscape("quota", args[0])
			if username != "" {
				path += "?username=" + strings.TrimPrefix(username, "@")
			}
			var st quota.Status
			if _, err := c.do(cmd.Context(), http.MethodGet, path, nil, &st); err != nil {
				return err
			}
			fmt.Fprintf(w, "USER\t%s\n", st.UserID)
			fmt.Fprintf(w, "ADMIN\t%t\n", st.IsAdmin)
			fmt.Fprintf(w, "TODAY\t%d/%d\n", st.DailyCount, st.DailyLimit)
			fmt.Fprintf(w, "THIS MINUTE\t%d/%d\n", st.MinuteCount, st.MinuteLimit)
			fmt.Fprintf(w, "SERVICE\t%d/%d\n", st.TotalDailyRequests, st.TotalDailyLimit)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Telegram handle, used to resolve admin status")
	return cmd
}

func newAdminsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admins",
		Short: "Manage quota-exempt admins",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List admins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newAPIClient(opts)
			if err := c.requireToken(); err != nil {
				return err
			}
			var resp admin.AdminsResponse
			if _, err := c.do(cmd.Context(), http.MethodGet, "/admins", nil, &resp); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "USERNAME\tSOURCE")
			for _, a := range resp.Admins {
				source := "runtime"
				if a.Seed {
					source = "config"
				}
				fmt.Fprintf(w, "@%s\t%s\n", a.Username, source)
			}
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Grant admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(opts)
			if err := c.requireToken(); err != nil {
				return err
			}
			var entry admin.AdminEntry
			if _, err := c.do(cmd.Context(), http.MethodPost, "/admins", admin.AddAdminRequest{Username: args[0]}, &entry); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "@%s is now an admin\n", entry.Username)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <username>",
		Short: "Revoke admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(opts)
			if err := c.requireToken(); err != nil {
				return err
			}
			msg, err := c.do(cmd.Context(), http.MethodDelete, pathEscape("admins", quota.NormalizeHandle(args[0])), nil, nil)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage stored conversations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <chatID> <userID>",
		Short: "Delete one conversation's history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(opts)
			if err := c.requireToken(); err != nil {
				return err
			}
			msg, err := c.do(cmd.Context(), http.MethodDelete, pathEscape("history", args[0], args[1]), nil, nil)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	})
	return cmd
}

func newEventsCmd() *cobra.Command {
	var (
		natsURL string
		durable string
		filter  string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read gateway events from NATS",
	}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print conversation and quota events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if natsURL == "" {
				return errors.New("--nats or NATS_URL is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := inats.NewClient(ctx, config.NATSConfig{URL: natsURL})
			if err != nil {
				return err
			}
			defer client.Close()

			subject := color.New(color.FgCyan)
			out := cmd.OutOrStdout()
			return inats.NewConsumerManager(client.JetStream()).Tail(ctx, durable, filter, func(subj string, data []byte) {
				subject.Fprintf(out, "%s ", subj)
				fmt.Fprintln(out, string(data))
			})
		},
	}
	tail.Flags().StringVar(&natsURL, "nats", os.Getenv("NATS_URL"), "NATS server URL")
	tail.Flags().StringVar(&durable, "durable", "", "durable consumer name; resumes and acks when set")
	tail.Flags().StringVar(&filter, "subject", inats.SubjectEvents, "subject filter")
	cmd.AddCommand(tail)
	return cmd
}

// readSecret reads one line, without echo when in is a terminal.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		if len(b) == 0 {
			return "", errors.New("empty password")
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
