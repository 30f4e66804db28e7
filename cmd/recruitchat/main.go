// Command recruitchat is a terminal client for a running RecruitPipe server: it plays
// the candidate side of a conversation and inspects threads.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server  string
	phone   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "recruitchat",
		Short:        "Chat with a RecruitPipe server from the terminal",
		SilenceUsage: true,
	}
	server := os.Getenv("RECRUITPIPE_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "server base URL (or set RECRUITPIPE_URL)")
	root.PersistentFlags().StringVarP(&opts.phone, "phone", "p", "+37060000001", "candidate phone number")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(newChatCmd(opts), newSendCmd(opts), newThreadCmd(opts), newSummaryCmd(opts), newPromptCmd(opts))
	return root
}

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Send candidate messages line by line and print the replies",
		Long: `Reads messages from stdin and posts each one to /webhooks/mo as the candidate.

Commands inside the chat:
  /summary  print the outcome summary of the thread
  /quit     leave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient(opts.server, opts.timeout)
			return chat(cmd, c, opts.phone, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func chat(cmd *cobra.Command, c *client, phone string, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()
	fmt.Fprintf(out, "chatting as %s, /quit to leave\n", phone)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/summary":
			o, err := c.Summary(ctx, phone)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			printOutcome(out, o)
			continue
		}

		res, err := c.Turn(ctx, phone, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printTurn(out, res)
	}
}

func printTurn(out io.Writer, res models.TurnResult) {
	switch {
	case res.Ignored != "":
		fmt.Fprintf(out, "  (ignored: %s)\n", res.Ignored)
	case res.Reply == "":
		fmt.Fprintf(out, "  (no reply, state %s)\n", res.State)
	default:
		fmt.Fprintf(out, "bot> %s\n", res.Reply)
		fmt.Fprintf(out, "  [state=%s intent=%s", res.State, res.Intent)
		if res.CloseType != models.CloseNone {
			fmt.Fprintf(out, " close=%s", res.CloseType)
		}
		if res.DNC {
			fmt.Fprint(out, " dnc")
		}
		fmt.Fprintln(out, "]")
	}
}

func printOutcome(out io.Writer, o models.Outcome) {
	years := "?"
	if o.Years != nil {
		years = fmt.Sprint(*o.Years)
	}
	fmt.Fprintf(out, "thread %d: interested=%s future=%s years=%s availability=%q close=%s\n",
		o.ThreadID, o.Interested, o.FutureInterest, years, o.Availability, o.CloseType)
}

func newSendCmd(opts *options) *cobra.Command {
	var req models.SendRequest
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Start outreach to the phone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.To = opts.phone
			res, err := newClient(opts.server, opts.timeout).Send(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "thread %d -> %s\n%s\n", res.ThreadID, res.To, res.Body)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Body, "body", "", "message text; generated from city and specialty when empty")
	cmd.Flags().StringVar(&req.City, "city", "", "site city")
	cmd.Flags().StringVar(&req.Specialty, "specialty", "", "trade sought")
	cmd.Flags().StringVar(&req.Name, "name", "", "candidate name")
	return cmd
}

func newThreadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "thread",
		Short: "Print the transcript of the phone's thread",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newClient(opts.server, opts.timeout).Thread(cmd.Context(), opts.phone)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "thread %d (%s) %s %s dnc=%t\n", v.Thread.ID, v.Thread.Status, v.Thread.City, v.Thread.Specialty, v.Contact.DNC)
			for _, m := range v.Messages {
				who := "you"
				if m.Direction == models.DirectionOut {
					who = "bot"
				}
				fmt.Fprintf(out, "%s %s> %s\n", m.Timestamp.Local().Format("15:04:05"), who, m.Body)
			}
			return nil
		},
	}
}

func newSummaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the outcome summary of the phone's latest thread",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := newClient(opts.server, opts.timeout).Summary(cmd.Context(), opts.phone)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), o)
			return nil
		},
	}
}

func newPromptCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the prompt hash and model the server runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newClient(opts.server, opts.timeout).Prompt(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", p.PromptSHA, p.Model)
			return nil
		},
	}
}
